// Command assetopt recompresses oversized DatoCMS image assets in place.
//
// Subcommands:
//
//	run          optimize every candidate above the large-asset threshold
//	candidates   list candidates and the transform each would receive
//	replace      swap one asset's binary for the image at a URL
//	history      inspect, tail and prune recorded runs
//	status       check API access, directories and the last run
//	config       create, validate or print configuration
//	test-notify  send a test ntfy notification
package main
