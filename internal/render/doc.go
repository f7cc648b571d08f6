// Package render drives the external render service for claimed jobs. The
// worker submits the recipe, polls for progress, detects staleness against
// the per-type timeout, honors cancel requests at poll boundaries, and
// downloads the finished asset before handing the job to scoring.
package render
