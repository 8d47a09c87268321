package mapfile

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/osm"
)

const (
	// Magic is the identifier at the start of every map file
	Magic = "mapsforge binary OSM"

	headerSizeMin = 70
	headerSizeMax = 1000000

	fileVersionMin = 3
	fileVersionMax = 5

	// BytesPerIndexEntry is the on-disk size of one block index entry
	BytesPerIndexEntry = 5

	// signatureLengthIndex is the size of the debug signature in front of the index
	signatureLengthIndex = 16

	maxBaseZoomLevel = 20
	maxZoomLevel     = 22

	projectionMercator = "Mercator"

	coordinatesDivisor = 1000000.0
)

// Header option flags
const (
	headerFlagDebug              = 0x80
	headerFlagStartPosition      = 0x40
	headerFlagStartZoomLevel     = 0x20
	headerFlagLanguagePreference = 0x10
	headerFlagComment            = 0x08
	headerFlagCreatedBy          = 0x04
)

// Header is the parsed file header
type Header struct {
	FileVersion   int
	FileSize      int64
	MapDate       time.Time
	BoundingBox   orb.Bound
	TilePixelSize int
	Projection    string
	DebugFile     bool

	StartPosition      *orb.Point
	StartZoomLevel     int // -1 when absent
	LanguagePreference string
	Comment            string
	CreatedBy          string

	POITags TagTable
	WayTags TagTable

	SubFiles []*SubFileParameter

	ZoomLevelMin int
	ZoomLevelMax int

	byZoom []*SubFileParameter
}

// ParseHeader reads the header of a map file of fileSize bytes
func ParseHeader(r io.ReaderAt, fileSize int64) (*Header, error) {
	buf := NewReadBuffer()

	prefix := len(Magic) + 4
	if fileSize < int64(prefix) {
		return nil, fmt.Errorf("%w: file of %d bytes is too small", ErrInvalidHeader, fileSize)
	}
	if err := buf.ReadBlock(r, 0, prefix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	magic, err := buf.ReadUTF8StringN(len(Magic))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, magic)
	}
	headerSize, err := buf.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if headerSize < headerSizeMin || headerSize > headerSizeMax {
		return nil, fmt.Errorf("%w: invalid remaining header size %d", ErrInvalidHeader, headerSize)
	}
	if int64(prefix)+int64(headerSize) > fileSize {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds file size %d", ErrInvalidHeader, headerSize, fileSize)
	}
	if err := buf.ReadBlock(r, int64(prefix), int(headerSize)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	h := &Header{StartZoomLevel: -1}
	if err := h.parse(buf, fileSize, int64(prefix)+int64(headerSize)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	return h, nil
}

func (h *Header) parse(buf *ReadBuffer, fileSize, headerEnd int64) error {
	version, err := buf.ReadInt32()
	if err != nil {
		return err
	}
	if version < fileVersionMin || version > fileVersionMax {
		return fmt.Errorf("unsupported file version %d", version)
	}
	h.FileVersion = int(version)

	if h.FileSize, err = buf.ReadInt64(); err != nil {
		return err
	}
	if h.FileSize != fileSize {
		return fmt.Errorf("file size in header %d does not match actual size %d", h.FileSize, fileSize)
	}

	date, err := buf.ReadInt64()
	if err != nil {
		return err
	}
	h.MapDate = time.UnixMilli(date).UTC()

	if err := h.readBoundingBox(buf); err != nil {
		return err
	}

	pixels, err := buf.ReadInt16()
	if err != nil {
		return err
	}
	h.TilePixelSize = int(pixels)

	if h.Projection, err = buf.ReadUTF8String(); err != nil {
		return err
	}
	if h.Projection != projectionMercator {
		return fmt.Errorf("unsupported projection %q", h.Projection)
	}

	if err := h.readOptionalFields(buf); err != nil {
		return err
	}

	if h.POITags, err = readTagTable(buf); err != nil {
		return fmt.Errorf("poi tags: %w", err)
	}
	if h.WayTags, err = readTagTable(buf); err != nil {
		return fmt.Errorf("way tags: %w", err)
	}

	return h.readSubFiles(buf, headerEnd)
}

func (h *Header) readBoundingBox(buf *ReadBuffer) error {
	var v [4]int32
	for i := range v {
		x, err := buf.ReadInt32()
		if err != nil {
			return err
		}
		v[i] = x
	}
	minLat, minLon, maxLat, maxLon := v[0], v[1], v[2], v[3]
	if minLat > maxLat || minLon > maxLon ||
		minLat < -90e6 || maxLat > 90e6 || minLon < -180e6 || maxLon > 180e6 {
		return fmt.Errorf("invalid bounding box %d,%d,%d,%d", minLat, minLon, maxLat, maxLon)
	}
	h.BoundingBox = orb.Bound{
		Min: orb.Point{float64(minLon) / coordinatesDivisor, float64(minLat) / coordinatesDivisor},
		Max: orb.Point{float64(maxLon) / coordinatesDivisor, float64(maxLat) / coordinatesDivisor},
	}
	return nil
}

func (h *Header) readOptionalFields(buf *ReadBuffer) error {
	flags, err := buf.ReadByte()
	if err != nil {
		return err
	}
	h.DebugFile = flags&headerFlagDebug != 0

	if flags&headerFlagStartPosition != 0 {
		lat, err := buf.ReadInt32()
		if err != nil {
			return err
		}
		lon, err := buf.ReadInt32()
		if err != nil {
			return err
		}
		h.StartPosition = &orb.Point{float64(lon) / coordinatesDivisor, float64(lat) / coordinatesDivisor}
	}
	if flags&headerFlagStartZoomLevel != 0 {
		z, err := buf.ReadByte()
		if err != nil {
			return err
		}
		if z > maxZoomLevel {
			return fmt.Errorf("invalid start zoom level %d", z)
		}
		h.StartZoomLevel = int(z)
	}
	if flags&headerFlagLanguagePreference != 0 {
		if h.LanguagePreference, err = buf.ReadUTF8String(); err != nil {
			return err
		}
	}
	if flags&headerFlagComment != 0 {
		if h.Comment, err = buf.ReadUTF8String(); err != nil {
			return err
		}
	}
	if flags&headerFlagCreatedBy != 0 {
		if h.CreatedBy, err = buf.ReadUTF8String(); err != nil {
			return err
		}
	}
	return nil
}

// readTagTable reads a 16-bit count followed by "key=value" strings
func readTagTable(buf *ReadBuffer) (TagTable, error) {
	n, err := buf.ReadInt16()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid number of tags %d", n)
	}
	table := make(TagTable, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := buf.ReadUTF8String()
		if err != nil {
			return nil, err
		}
		table = append(table, ParseTag(s))
	}
	return table, nil
}

// ParseTag splits a "key=value" string at the first '='
func ParseTag(s string) osm.Tag {
	key, value, _ := strings.Cut(s, "=")
	return osm.Tag{Key: key, Value: value}
}

func (h *Header) readSubFiles(buf *ReadBuffer, headerEnd int64) error {
	count, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("invalid number of sub-files %d", count)
	}

	h.ZoomLevelMin = maxZoomLevel
	h.ZoomLevelMax = 0
	h.SubFiles = make([]*SubFileParameter, 0, count)

	for i := 0; i < int(count); i++ {
		sub, err := h.readSubFile(buf, headerEnd)
		if err != nil {
			return fmt.Errorf("sub-file %d: %w", i, err)
		}
		h.SubFiles = append(h.SubFiles, sub)
		if sub.ZoomLevelMin < h.ZoomLevelMin {
			h.ZoomLevelMin = sub.ZoomLevelMin
		}
		if sub.ZoomLevelMax > h.ZoomLevelMax {
			h.ZoomLevelMax = sub.ZoomLevelMax
		}
	}

	h.byZoom = make([]*SubFileParameter, h.ZoomLevelMax+1)
	for _, sub := range h.SubFiles {
		for z := sub.ZoomLevelMin; z <= sub.ZoomLevelMax; z++ {
			h.byZoom[z] = sub
		}
	}
	return nil
}

func (h *Header) readSubFile(buf *ReadBuffer, headerEnd int64) (*SubFileParameter, error) {
	var zooms [3]byte
	for i := range zooms {
		z, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		zooms[i] = z
	}
	base, zmin, zmax := int(zooms[0]), int(zooms[1]), int(zooms[2])
	if base > maxBaseZoomLevel {
		return nil, fmt.Errorf("invalid base zoom level %d", base)
	}
	if zmin > maxZoomLevel || zmax > maxZoomLevel || zmin > zmax {
		return nil, fmt.Errorf("invalid zoom range %d-%d", zmin, zmax)
	}

	start, err := buf.ReadInt64()
	if err != nil {
		return nil, err
	}
	if start < headerEnd || start >= h.FileSize {
		return nil, fmt.Errorf("invalid start address %d", start)
	}
	size, err := buf.ReadInt64()
	if err != nil {
		return nil, err
	}
	if size < 1 || start+size > h.FileSize {
		return nil, fmt.Errorf("invalid sub-file size %d", size)
	}

	sub := &SubFileParameter{
		BaseZoomLevel: base,
		ZoomLevelMin:  zmin,
		ZoomLevelMax:  zmax,
		StartAddress:  start,
		SubFileSize:   size,
	}
	sub.IndexStartAddress = start
	if h.DebugFile {
		sub.IndexStartAddress += signatureLengthIndex
	}

	z := maptile.Zoom(base)
	topLeft := maptile.At(orb.Point{h.BoundingBox.Min[0], h.BoundingBox.Max[1]}, z)
	bottomRight := maptile.At(orb.Point{h.BoundingBox.Max[0], h.BoundingBox.Min[1]}, z)
	sub.BoundaryTileLeft = int64(topLeft.X)
	sub.BoundaryTileTop = int64(topLeft.Y)
	sub.BoundaryTileRight = int64(bottomRight.X)
	sub.BoundaryTileBottom = int64(bottomRight.Y)

	sub.BlocksWidth = sub.BoundaryTileRight - sub.BoundaryTileLeft + 1
	sub.BlocksHeight = sub.BoundaryTileBottom - sub.BoundaryTileTop + 1
	sub.NumberOfBlocks = sub.BlocksWidth * sub.BlocksHeight
	sub.IndexEndAddress = sub.IndexStartAddress + sub.NumberOfBlocks*BytesPerIndexEntry

	return sub, nil
}

// QueryZoomLevel clamps zoom to the zoom range covered by the file
func (h *Header) QueryZoomLevel(zoom int) int {
	if zoom > h.ZoomLevelMax {
		return h.ZoomLevelMax
	}
	if zoom < h.ZoomLevelMin {
		return h.ZoomLevelMin
	}
	return zoom
}

// SubFileParameter returns the sub-file holding zoom, or nil
func (h *Header) SubFileParameter(zoom int) *SubFileParameter {
	if zoom < 0 || zoom >= len(h.byZoom) {
		return nil
	}
	return h.byZoom[zoom]
}
