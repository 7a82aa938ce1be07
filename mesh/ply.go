package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var ErrPLYFormat = errors.New("invalid ply")

// EncodePLY writes m as binary little endian PLY.
func EncodePLY(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return err
	}
	hasNormals := len(m.Normals) > 0
	hasColors := len(m.Colors) > 0

	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\ncomment img2mesh\n")
	_, _ = fmt.Fprintf(bw, "element vertex %d\n", len(m.Positions))
	_, _ = fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	if hasNormals {
		_, _ = fmt.Fprintf(bw, "property float nx\nproperty float ny\nproperty float nz\n")
	}
	if hasColors {
		_, _ = fmt.Fprintf(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\nproperty uchar alpha\n")
	}
	_, _ = fmt.Fprintf(bw, "element face %d\n", m.FaceCount())
	_, _ = fmt.Fprintf(bw, "property list uchar int vertex_indices\nend_header\n")

	var buf [4]byte
	putFloat := func(f float32) {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		_, _ = bw.Write(buf[:])
	}
	for i, p := range m.Positions {
		putFloat(p[0])
		putFloat(p[1])
		putFloat(p[2])
		if hasNormals {
			putFloat(m.Normals[i][0])
			putFloat(m.Normals[i][1])
			putFloat(m.Normals[i][2])
		}
		if hasColors {
			_, _ = bw.Write(m.Colors[i][:])
		}
	}
	for i := 0; i < len(m.Indices); i += 3 {
		_ = bw.WriteByte(3)
		for _, idx := range m.Indices[i : i+3] {
			binary.LittleEndian.PutUint32(buf[:], idx)
			_, _ = bw.Write(buf[:])
		}
	}
	return bw.Flush()
}

type plyProperty struct {
	name     string
	typ      string
	list     bool
	countTyp string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyValueReader interface {
	read(typ string) (float64, error)
}

// 预分配上限，count 来自文件头，不可信
const maxPrealloc = 1 << 16

// readCount 读取 list 的长度，必须是落在 typ 取值范围内的非负整数
func readCount(vr plyValueReader, typ string) (int, error) {
	limit, ok := countLimit[typ]
	if !ok {
		return 0, fmt.Errorf("%w: list count type %q", ErrPLYFormat, typ)
	}
	n, err := vr.read(typ)
	if err != nil {
		return 0, err
	}
	if n < 0 || n != math.Trunc(n) || n > limit {
		return 0, fmt.Errorf("%w: bad list count %v", ErrPLYFormat, n)
	}
	return int(n), nil
}

var countLimit = map[string]float64{
	"char": math.MaxInt8, "int8": math.MaxInt8,
	"uchar": math.MaxUint8, "uint8": math.MaxUint8,
	"short": math.MaxInt16, "int16": math.MaxInt16,
	"ushort": math.MaxUint16, "uint16": math.MaxUint16,
	"int": math.MaxInt32, "int32": math.MaxInt32,
	"uint": math.MaxUint32, "uint32": math.MaxUint32,
}

// DecodePLY reads an ascii or binary_little_endian PLY stream. Polygons with
// more than three corners are fan triangulated; unknown elements and
// properties are skipped.
func DecodePLY(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	format, elements, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}

	var vr plyValueReader
	switch format {
	case "ascii":
		sc := bufio.NewScanner(br)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		sc.Split(bufio.ScanWords)
		vr = &asciiReader{sc: sc}
	case "binary_little_endian":
		vr = &binaryReader{r: br}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrPLYFormat, format)
	}

	m := &Mesh{}
	for _, el := range elements {
		switch el.name {
		case "vertex":
			err = readVertices(vr, el, m)
		case "face":
			err = readFaces(vr, el, m)
		default:
			err = skipElement(vr, el)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", el.name, err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func readPLYHeader(br *bufio.Reader) (string, []plyElement, error) {
	magic, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return "", nil, fmt.Errorf("%w: missing magic", ErrPLYFormat)
	}

	var format string
	var elements []plyElement
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", nil, fmt.Errorf("%w: unterminated header", ErrPLYFormat)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return "", nil, fmt.Errorf("%w: %q", ErrPLYFormat, line)
			}
			format = fields[1]
		case "comment", "obj_info":
		case "element":
			if len(fields) != 3 {
				return "", nil, fmt.Errorf("%w: %q", ErrPLYFormat, line)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return "", nil, fmt.Errorf("%w: bad element count %q", ErrPLYFormat, fields[2])
			}
			elements = append(elements, plyElement{name: fields[1], count: n})
		case "property":
			if len(elements) == 0 {
				return "", nil, fmt.Errorf("%w: property before element", ErrPLYFormat)
			}
			el := &elements[len(elements)-1]
			switch {
			case len(fields) == 5 && fields[1] == "list":
				el.props = append(el.props, plyProperty{name: fields[4], typ: fields[3], list: true, countTyp: fields[2]})
			case len(fields) == 3:
				el.props = append(el.props, plyProperty{name: fields[2], typ: fields[1]})
			default:
				return "", nil, fmt.Errorf("%w: %q", ErrPLYFormat, line)
			}
		case "end_header":
			return format, elements, nil
		default:
			return "", nil, fmt.Errorf("%w: unknown header keyword %q", ErrPLYFormat, fields[0])
		}
	}
}

func readVertices(vr plyValueReader, el plyElement, m *Mesh) error {
	names := map[string]int{}
	for i, p := range el.props {
		names[p.name] = i
	}
	_, hasNormals := names["nx"]
	_, hasColors := names["red"]

	capacity := min(el.count, maxPrealloc)
	m.Positions = make([][3]float32, 0, capacity)
	if hasNormals {
		m.Normals = make([][3]float32, 0, capacity)
	}
	if hasColors {
		m.Colors = make([][4]uint8, 0, capacity)
	}

	values := make(map[string]float64, len(el.props))
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			if p.list {
				if err := skipList(vr, p); err != nil {
					return err
				}
				continue
			}
			v, err := vr.read(p.typ)
			if err != nil {
				return err
			}
			values[p.name] = v
		}
		m.Positions = append(m.Positions, [3]float32{float32(values["x"]), float32(values["y"]), float32(values["z"])})
		if hasNormals {
			m.Normals = append(m.Normals, [3]float32{float32(values["nx"]), float32(values["ny"]), float32(values["nz"])})
		}
		if hasColors {
			alpha := 255.0
			if _, ok := names["alpha"]; ok {
				alpha = values["alpha"]
			}
			m.Colors = append(m.Colors, [4]uint8{uint8(values["red"]), uint8(values["green"]), uint8(values["blue"]), uint8(alpha)})
		}
	}
	return nil
}

func readFaces(vr plyValueReader, el plyElement, m *Mesh) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			if !p.list {
				if _, err := vr.read(p.typ); err != nil {
					return err
				}
				continue
			}
			if p.name != "vertex_indices" && p.name != "vertex_index" {
				if err := skipList(vr, p); err != nil {
					return err
				}
				continue
			}
			n, err := readCount(vr, p.countTyp)
			if err != nil {
				return err
			}
			corners := make([]uint32, 0, min(n, maxPrealloc))
			for k := 0; k < n; k++ {
				v, err := vr.read(p.typ)
				if err != nil {
					return err
				}
				if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
					return fmt.Errorf("%w: bad vertex index %v", ErrPLYFormat, v)
				}
				corners = append(corners, uint32(v))
			}
			for k := 1; k+1 < len(corners); k++ {
				m.Indices = append(m.Indices, corners[0], corners[k], corners[k+1])
			}
		}
	}
	return nil
}

func skipElement(vr plyValueReader, el plyElement) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			var err error
			if p.list {
				err = skipList(vr, p)
			} else {
				_, err = vr.read(p.typ)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func skipList(vr plyValueReader, p plyProperty) error {
	n, err := readCount(vr, p.countTyp)
	if err != nil {
		return err
	}
	for k := 0; k < n; k++ {
		if _, err := vr.read(p.typ); err != nil {
			return err
		}
	}
	return nil
}

type asciiReader struct {
	sc *bufio.Scanner
}

func (a *asciiReader) read(string) (float64, error) {
	if !a.sc.Scan() {
		if err := a.sc.Err(); err != nil {
			return 0, err
		}
		return 0, io.ErrUnexpectedEOF
	}
	v, err := strconv.ParseFloat(a.sc.Text(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPLYFormat, err)
	}
	return v, nil
}

type binaryReader struct {
	r   io.Reader
	buf [8]byte
}

func (b *binaryReader) read(typ string) (float64, error) {
	size, err := plyTypeSize(typ)
	if err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(b.r, b.buf[:size]); err != nil {
		return 0, err
	}
	le := binary.LittleEndian
	switch typ {
	case "char", "int8":
		return float64(int8(b.buf[0])), nil
	case "uchar", "uint8":
		return float64(b.buf[0]), nil
	case "short", "int16":
		return float64(int16(le.Uint16(b.buf[:]))), nil
	case "ushort", "uint16":
		return float64(le.Uint16(b.buf[:])), nil
	case "int", "int32":
		return float64(int32(le.Uint32(b.buf[:]))), nil
	case "uint", "uint32":
		return float64(le.Uint32(b.buf[:])), nil
	case "float", "float32":
		return float64(math.Float32frombits(le.Uint32(b.buf[:]))), nil
	default:
		return math.Float64frombits(le.Uint64(b.buf[:])), nil
	}
}

func plyTypeSize(typ string) (int, error) {
	switch typ {
	case "char", "int8", "uchar", "uint8":
		return 1, nil
	case "short", "int16", "ushort", "uint16":
		return 2, nil
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4, nil
	case "double", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: unknown property type %q", ErrPLYFormat, typ)
	}
}
