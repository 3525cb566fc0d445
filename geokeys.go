package terrain

import (
	"errors"
	"fmt"
	"strings"
)

var errParse = errors.New("geokey parse error")

// A GeoKey is a GeoTIFF key.
type GeoKey uint16

// GeoKeys used to check the model of DEM tiles.
const (
	GeoKeyGTModelType   GeoKey = 1024
	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeodeticDatum GeoKey = 2050
	GeoKeyProjectedCRS  GeoKey = 3072
)

const (
	modelTypeGeographic = 2
	crsWGS84            = 4326
	datumWGS84          = 6326
	userDefined         = 32767
)

// ParsedGeoKeys are the parsed contents of a GeoTIFF key directory.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoTIFF key directory. ASCII parameters have their
// terminating pipe removed.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams string) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, fmt.Errorf("%w: short directory", errParse)
	}
	if version, revision, minorRevision := directory[0], directory[1], directory[2]; version != 1 || revision != 1 || minorRevision > 1 {
		return nil, fmt.Errorf("%w: unsupported version %d.%d.%d", errParse, version, revision, minorRevision)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: expected %d keys", errParse, numberOfKeys)
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key, location, count, value := GeoKey(entry[0]), entry[1], int(entry[2]), int(entry[3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("%w: key %d: count %d", errParse, key, count)
			}
			parsedGeoKeys.Params[key] = value
		case 34736: // GeoDoubleParamsTag.
			if count != 1 || value >= len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: invalid double param", errParse, key)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[value]
		case 34737: // GeoASCIIParamsTag.
			if value+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: invalid ASCII param", errParse, key)
			}
			parsedGeoKeys.ASCIIParams[key] = strings.TrimSuffix(asciiParams[value:value+count], "|")
		default:
			return nil, fmt.Errorf("%w: key %d: location %d", errors.ErrUnsupported, key, location)
		}
	}
	return parsedGeoKeys, nil
}

// CheckGeographicWGS84 returns an error if k does not describe a geographic
// model on the WGS84 datum. Missing keys are assumed to match.
func (k *ParsedGeoKeys) CheckGeographicWGS84() error {
	if modelType, ok := k.Params[GeoKeyGTModelType]; ok && modelType != modelTypeGeographic {
		return fmt.Errorf("model type %d is not geographic", modelType)
	}
	if _, ok := k.Params[GeoKeyProjectedCRS]; ok {
		return errors.New("projected CRS")
	}
	switch crs, ok := k.Params[GeoKeyGeodeticCRS]; {
	case !ok || crs == crsWGS84:
		return nil
	case crs == userDefined:
		if datum, ok := k.Params[GeoKeyGeodeticDatum]; ok && datum != datumWGS84 {
			return fmt.Errorf("datum %d is not WGS84", datum)
		}
		return nil
	default:
		return fmt.Errorf("geodetic CRS %d is not WGS84", crs)
	}
}
