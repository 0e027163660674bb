// Command cqrtraffic builds quantile density/flow frontiers for Fintraffic
// TMS stations.
//
// Usage:
//
//	cqrtraffic model --station 101 --days 2021:1-7
//	cqrtraffic fetch --station 101 --days 2021:1 --save day1.gzip
//	cqrtraffic serve --config station.json
//
// See --help for all available options.
package main

func main() {
	Execute()
}
