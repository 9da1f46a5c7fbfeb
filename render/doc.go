// Package render composes panel frames from structured content.
//
// Rendering is a pure function of the content and the art policy: the same
// input always yields the same frame. Every layout fills the background
// first and paints later elements over earlier ones. Text is rasterized
// with x/image font faces and snapped to the palette, so frames hold only
// White, Black and Red.
//
// Layouts use fixed roles for color: titles in the accent (red), body text
// in black. Publishing a frame is the caller's job (see display.Publisher).
package render
