package nnue

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Weight file format constants
const (
	MagicNumber = 0x4650484B // "KHPF" little-endian: HalfKP float
	Version     = 1
)

// zstdMagic is the little-endian frame magic of a zstd stream.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Weight loading errors. All are fatal: an evaluator is never built from a
// network that failed to load.
var (
	ErrBadMagic      = errors.New("invalid magic number")
	ErrBadVersion    = errors.New("unsupported version")
	ErrBadDimensions = errors.New("layer size mismatch")
	ErrNonFinite     = errors.New("non-finite weight")
)

// FileHeader is the header of the weight file.
type FileHeader struct {
	Magic   uint32
	Version uint32
	Inputs  uint32
	L1Size  uint32
	L2Size  uint32
	L3Size  uint32
}

func currentHeader() FileHeader {
	return FileHeader{
		Magic:   MagicNumber,
		Version: Version,
		Inputs:  HalfKPSize,
		L1Size:  L1Size,
		L2Size:  L2Size,
		L3Size:  L3Size,
	}
}

// LoadFile loads a network from filename. Files starting with a zstd frame
// (usually named *.zst) are decompressed transparently.
//
// File format (little-endian float32 after the header):
//   - Header: Magic, Version, Inputs, L1Size, L2Size, L3Size (uint32 each)
//   - InputWeights: HalfKPSize rows of L1Size
//   - InputBias: L1Size
//   - L1Weights: L2Size rows of 2*L1Size, L1Bias: L2Size
//   - L2Weights: L3Size rows of L2Size, L2Bias: L3Size
//   - OutputWeights: L3Size, OutputBias: 1
func LoadFile(filename string) (*Network, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights file: %w", err)
	}
	defer f.Close()

	net, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return net, nil
}

// Load reads a network, plain or zstd-compressed, from r.
func Load(r io.Reader) (*Network, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	head, err := br.Peek(len(zstdMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	net := NewNetwork()
	if err := net.read(src); err != nil {
		return nil, err
	}
	return net, nil
}

func (n *Network) read(r io.Reader) error {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	want := currentHeader()
	if header.Magic != want.Magic {
		return fmt.Errorf("%w: expected %x, got %x", ErrBadMagic, want.Magic, header.Magic)
	}
	if header.Version != want.Version {
		return fmt.Errorf("%w: expected %d, got %d", ErrBadVersion, want.Version, header.Version)
	}
	if header != want {
		return fmt.Errorf("%w: expected %d/%d/%d/%d, got %d/%d/%d/%d", ErrBadDimensions,
			want.Inputs, want.L1Size, want.L2Size, want.L3Size,
			header.Inputs, header.L1Size, header.L2Size, header.L3Size)
	}

	for i := range n.InputWeights {
		if err := readFloats(r, n.InputWeights[i][:]); err != nil {
			return fmt.Errorf("failed to read input weights at %d: %w", i, err)
		}
	}
	if err := readFloats(r, n.InputBias[:]); err != nil {
		return fmt.Errorf("failed to read input bias: %w", err)
	}

	for i := range n.L1Weights {
		if err := readFloats(r, n.L1Weights[i][:]); err != nil {
			return fmt.Errorf("failed to read L1 weights at %d: %w", i, err)
		}
	}
	if err := readFloats(r, n.L1Bias[:]); err != nil {
		return fmt.Errorf("failed to read L1 bias: %w", err)
	}

	for i := range n.L2Weights {
		if err := readFloats(r, n.L2Weights[i][:]); err != nil {
			return fmt.Errorf("failed to read L2 weights at %d: %w", i, err)
		}
	}
	if err := readFloats(r, n.L2Bias[:]); err != nil {
		return fmt.Errorf("failed to read L2 bias: %w", err)
	}

	if err := readFloats(r, n.OutputWeights[:]); err != nil {
		return fmt.Errorf("failed to read output weights: %w", err)
	}
	var bias [1]float32
	if err := readFloats(r, bias[:]); err != nil {
		return fmt.Errorf("failed to read output bias: %w", err)
	}
	n.OutputBias = bias[0]

	return nil
}

func readFloats(r io.Reader, dst []float32) error {
	if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	for i, v := range dst {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w at offset %d", ErrNonFinite, i)
		}
	}
	return nil
}

// SaveFile writes the network to filename, zstd-compressed when the name ends
// in ".zst".
func (n *Network) SaveFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	if err := n.Save(f, strings.HasSuffix(filename, ".zst")); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Save writes the network to w.
func (n *Network) Save(w io.Writer, compress bool) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	var dst io.Writer = bw
	var enc *zstd.Encoder
	if compress {
		var err error
		enc, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		dst = enc
	}

	if err := n.write(dst); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return bw.Flush()
}

func (n *Network) write(w io.Writer) error {
	header := currentHeader()
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range n.InputWeights {
		if err := binary.Write(w, binary.LittleEndian, n.InputWeights[i][:]); err != nil {
			return fmt.Errorf("failed to write input weights at %d: %w", i, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, n.InputBias[:]); err != nil {
		return fmt.Errorf("failed to write input bias: %w", err)
	}

	for i := range n.L1Weights {
		if err := binary.Write(w, binary.LittleEndian, n.L1Weights[i][:]); err != nil {
			return fmt.Errorf("failed to write L1 weights at %d: %w", i, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, n.L1Bias[:]); err != nil {
		return fmt.Errorf("failed to write L1 bias: %w", err)
	}

	for i := range n.L2Weights {
		if err := binary.Write(w, binary.LittleEndian, n.L2Weights[i][:]); err != nil {
			return fmt.Errorf("failed to write L2 weights at %d: %w", i, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, n.L2Bias[:]); err != nil {
		return fmt.Errorf("failed to write L2 bias: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, n.OutputWeights[:]); err != nil {
		return fmt.Errorf("failed to write output weights: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, n.OutputBias); err != nil {
		return fmt.Errorf("failed to write output bias: %w", err)
	}
	return nil
}
