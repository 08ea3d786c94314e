// Package overlay is the moving map engine: it polls the aircraft position,
// colors the marker by altitude, draws geodesic range rings and publishes
// the resulting frames for the map widget.
package overlay
