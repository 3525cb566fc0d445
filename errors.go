package terrain

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/paulmach/orb"
)

// A FormatError is returned when a tile file is malformed.
type FormatError struct {
	Filename string
	Reason   string
}

func (e *FormatError) Error() string {
	if e.Filename == "" {
		return "tile format: " + e.Reason
	}
	return e.Filename + ": tile format: " + e.Reason
}

// A CoverageError is returned when no usable tile covers a location. Err is
// fs.ErrNotExist when there is no tile file, a *FormatError when the tile file
// is corrupt, or an *IOError when the tile file could not be read.
type CoverageError struct {
	Key TileKey
	Err error
}

func (e *CoverageError) Error() string {
	if e.Missing() {
		return e.Key.String() + ": no terrain data"
	}
	return e.Key.String() + ": " + e.Err.Error()
}

func (e *CoverageError) Unwrap() error {
	return e.Err
}

// Missing returns whether e is caused by the absence of a tile file rather
// than by a corrupt or unreadable one.
func (e *CoverageError) Missing() bool {
	return errors.Is(e.Err, fs.ErrNotExist)
}

// A ConfigError is returned when a profile configuration is incomplete or
// invalid.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "profile config: " + e.Field + ": " + e.Reason
}

// A GeometryError is returned when a path between two points is ill-defined.
type GeometryError struct {
	Start  orb.Point
	End    orb.Point
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("path from %v to %v: %s", e.Start, e.End, e.Reason)
}

// A DataGapError is returned when a profile sample falls on void terrain data.
type DataGapError struct {
	Index int
	Point orb.Point
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("sample %d at %v: no terrain data", e.Index, e.Point)
}

// An IOError is returned when the filesystem cannot be accessed.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// An IndexError is returned when a grid index or point lies outside a tile.
type IndexError struct {
	Key    TileKey
	Row    int
	Col    int
	Point  orb.Point
	Reason string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}
