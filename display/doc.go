// Package display models the tri-color e-paper panel.
//
// A Frame is a palette-indexed image whose pixels are White, Black or Red.
// Drivers accept a frame with SetImage and refresh the panel with Show.
// The Publisher serializes pushes, keeps the last shown frame for previews
// and records timing.
package display
