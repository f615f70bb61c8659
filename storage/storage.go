// Package storage reads and writes the wtns.graph binary container: the
// optimized computation graph, the witness-signal list and the
// input-signal directory, framed as length-delimited protobuf messages.
//
// Layout of the stream:
//
//	magic "wtns.graph.001" (14 bytes)
//	node count, unsigned 64-bit little endian
//	count length-delimited Node messages
//	one length-delimited GraphMetadata message
//	metadata start offset, unsigned 64-bit little endian
//
// The trailing offset points back at the first byte of the metadata
// message, so a reader can seek straight to it without scanning nodes.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/user-none/witnesscalc/graph"
)

var graphMagic = []byte("wtns.graph.001")

// maxVarintLength bounds a standard varint length delimiter.
const maxVarintLength = 10

// ErrGraphFormat is returned for any malformed graph stream: bad magic,
// truncation, unknown operators or node variants, or a metadata offset
// that disagrees with the node stream.
var ErrGraphFormat = errors.New("invalid graph file")

// Serialize writes the graph triple to w. Nodes must already be in
// Montgomery form; a canonical constant is an error.
func Serialize(w io.Writer, nodes []graph.Node, witnessSignals []int, inputs graph.InputsInfo) error {
	ptr := 0

	if _, err := w.Write(graphMagic); err != nil {
		return err
	}
	ptr += len(graphMagic)

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(nodes)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}
	ptr += 8

	for i, n := range nodes {
		msg, err := encodeNode(n)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		framed := protowire.AppendBytes(nil, msg)
		if _, err := w.Write(framed); err != nil {
			return err
		}
		ptr += len(framed)
	}

	md := protowire.AppendBytes(nil, encodeMetadata(witnessSignals, inputs))
	if _, err := w.Write(md); err != nil {
		return err
	}

	var offset [8]byte
	binary.LittleEndian.PutUint64(offset[:], uint64(ptr))
	_, err := w.Write(offset[:])
	return err
}

// Deserialize reads a graph triple back from r, validating the magic,
// every node message and the trailing metadata offset.
func Deserialize(r io.Reader) ([]graph.Node, []int, graph.InputsInfo, error) {
	br := &pushBackReader{r: r}

	magic := make([]byte, len(graphMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrGraphFormat, err)
	}
	if !bytes.Equal(magic, graphMagic) {
		return nil, nil, nil, fmt.Errorf("%w: bad magic", ErrGraphFormat)
	}

	var countBuf [8]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrGraphFormat, err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])

	pos := len(graphMagic) + 8
	nodes := make([]graph.Node, 0, count)
	for i := uint64(0); i < count; i++ {
		msg, n, err := readMessage(br)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("node %d: %w", i, err)
		}
		pos += n
		node, err := decodeNode(msg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	metadataStart := pos

	msg, _, err := readMessage(br)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("metadata: %w", err)
	}
	witnessSignals, inputs, err := decodeMetadata(msg)
	if err != nil {
		return nil, nil, nil, err
	}

	var offsetBuf [8]byte
	if _, err := io.ReadFull(br, offsetBuf[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: missing metadata offset: %v", ErrGraphFormat, err)
	}
	if got := binary.LittleEndian.Uint64(offsetBuf[:]); got != uint64(metadataStart) {
		return nil, nil, nil, fmt.Errorf("%w: metadata offset %d, node stream ends at %d",
			ErrGraphFormat, got, metadataStart)
	}

	return nodes, witnessSignals, inputs, nil
}

// readMessage reads one length-delimited message, returning the payload
// and the total bytes consumed. The length varint is parsed from a
// speculative read of up to ten bytes; the excess is pushed back.
func readMessage(br *pushBackReader) ([]byte, int, error) {
	var head [maxVarintLength]byte
	n, err := br.Read(head[:])
	if n == 0 {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrGraphFormat, err)
	}

	size, m := protowire.ConsumeVarint(head[:n])
	if m < 0 {
		return nil, 0, fmt.Errorf("%w: bad length delimiter: %v", ErrGraphFormat, protowire.ParseError(m))
	}
	if m < n {
		br.unread(head[m:n])
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(br, msg); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated message: %v", ErrGraphFormat, err)
	}
	return msg, m + int(size), nil
}

// pushBackReader lets the length-delimiter parser consume more bytes
// than it needs and hand the excess back to the stream.
type pushBackReader struct {
	r   io.Reader
	buf []byte
}

func (p *pushBackReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	n := 0
	if len(p.buf) > 0 {
		n = copy(b, p.buf)
		p.buf = p.buf[n:]
	}

	for n < len(b) {
		m, err := p.r.Read(b[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// unread returns bytes to the reader; they are served before anything
// still buffered or unread.
func (p *pushBackReader) unread(b []byte) {
	merged := make([]byte, 0, len(b)+len(p.buf))
	merged = append(merged, b...)
	merged = append(merged, p.buf...)
	p.buf = merged
}
