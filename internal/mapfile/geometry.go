package mapfile

const (
	// MaxWayNodesSequenceLength is the largest node count of one way ring
	MaxWayNodesSequenceLength = 8192

	// DefaultCoordinateCapacity is the default size of the coordinate scratch
	// buffer in int32 values, enough for 16 rings of maximum length
	DefaultCoordinateCapacity = 2 * MaxWayNodesSequenceLength * 16
)

// nodeDecoder turns delta encoded way nodes into absolute coordinates. It
// owns fixed-capacity scratch buffers and is reused for every way of a query.
type nodeDecoder struct {
	raw    []int32
	coords []int32
	n      int

	minLat int32
	minLon int32
}

func newNodeDecoder(capacity int, minLat, minLon int32) *nodeDecoder {
	if capacity <= 0 {
		capacity = DefaultCoordinateCapacity
	}
	return &nodeDecoder{
		raw:    make([]int32, 2*MaxWayNodesSequenceLength),
		coords: make([]int32, capacity),
		minLat: minLat,
		minLon: minLon,
	}
}

// reset rewinds the coordinate write cursor
func (d *nodeDecoder) reset() {
	d.n = 0
}

// coordinates returns the values written since the last reset
func (d *nodeDecoder) coordinates() []int32 {
	return d.coords[:d.n]
}

// decode reads nodes coordinate pairs from r, appends the retained points as
// lon/lat pairs and returns the number of int32 values appended.
func (d *nodeDecoder) decode(r ByteReader, nodes int, doubleDelta bool, corner Point) (int, error) {
	if nodes < 2 || nodes > MaxWayNodesSequenceLength {
		return 0, formatError("invalid number of way nodes %d", nodes)
	}
	length := 2 * nodes
	raw := d.raw[:length]
	if err := r.ReadSignedVarintBulk(raw); err != nil {
		return 0, err
	}

	start := d.n
	lat := corner.Lat + raw[0]
	lon := corner.Lon + raw[1]
	if err := d.append(lon, lat); err != nil {
		return 0, err
	}

	keptLat, keptLon := lat, lon
	var accLat, accLon int32

	for pos := 2; pos < length; pos += 2 {
		if doubleDelta {
			accLat += raw[pos]
			accLon += raw[pos+1]
			lat += accLat
			lon += accLon
		} else {
			lat += raw[pos]
			lon += raw[pos+1]
		}

		dLat := lat - keptLat
		dLon := lon - keptLon
		last := pos == length-2
		if !last && abs32(dLat) <= d.minLat && abs32(dLon) <= d.minLon {
			continue
		}
		if err := d.append(lon, lat); err != nil {
			return 0, err
		}
		keptLat, keptLon = lat, lon
	}

	return d.n - start, nil
}

func (d *nodeDecoder) append(lon, lat int32) error {
	if d.n+2 > len(d.coords) {
		return formatError("way exceeds coordinate buffer of %d values", len(d.coords))
	}
	d.coords[d.n] = lon
	d.coords[d.n+1] = lat
	d.n += 2
	return nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
