// Package optimizer decides which DatoCMS images to recompress and drives the
// batch that replaces them.
//
// SelectParams maps an asset and the optimization settings to imgix transform
// parameters. The Orchestrator fetches candidates once, then for each asset
// selects parameters, fetches the rendition, gates on the minimum reduction and
// invokes the replacement protocol. Per-asset failures never stop the batch.
// Progress and activity-log lines are streamed through Callbacks; run history
// and metrics observe the run through Recorder.
package optimizer
