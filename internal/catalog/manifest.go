// Package catalog implements per-catalog binary manifest persistence and
// the overwrite-safe replace protocol described for the command
// registry: backup, disable+remove+reindex, insert, atomic write,
// restore-on-failure. Filesystem access goes through afero so the
// replace protocol is testable against an in-memory fs.
package catalog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"oatty/internal/workflow"
)

var manifestMagic = [4]byte{'O', 'A', 'T', 'M'}

const manifestVersion = 1

// Manifest is the on-disk unit for one catalog: its descriptor plus the
// commands it contributes to the registry.
type Manifest struct {
	Catalog  workflow.Catalog
	Commands []workflow.CommandSpec
}

// EncodeManifest serializes a manifest to the stable length-prefixed
// binary format: magic, version, then a length-prefixed JSON record for
// the catalog descriptor, then a count and a length-prefixed JSON
// record per command. The exact encoding is an implementation choice;
// only the replace-safety protocol around it is contractual.
func EncodeManifest(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(manifestMagic[:])
	buf.WriteByte(manifestVersion)

	catJSON, err := json.Marshal(m.Catalog)
	if err != nil {
		return nil, fmt.Errorf("encode catalog descriptor: %w", err)
	}
	if err := writeLengthPrefixed(&buf, catJSON); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(m.Commands))); err != nil {
		return nil, fmt.Errorf("encode command count: %w", err)
	}
	for i, cmd := range m.Commands {
		cmdJSON, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("encode command %d: %w", i, err)
		}
		if err := writeLengthPrefixed(&buf, cmdJSON); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeManifest reverses EncodeManifest.
func DecodeManifest(data []byte) (Manifest, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Manifest{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != manifestMagic {
		return Manifest{}, fmt.Errorf("bad manifest magic %q", magic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return Manifest{}, fmt.Errorf("read version: %w", err)
	}
	if version != manifestVersion {
		return Manifest{}, fmt.Errorf("unsupported manifest version %d", version)
	}

	catJSON, err := readLengthPrefixed(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("read catalog descriptor: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(catJSON, &m.Catalog); err != nil {
		return Manifest{}, fmt.Errorf("decode catalog descriptor: %w", err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Manifest{}, fmt.Errorf("read command count: %w", err)
	}
	m.Commands = make([]workflow.CommandSpec, 0, count)
	for i := uint32(0); i < count; i++ {
		cmdJSON, err := readLengthPrefixed(r)
		if err != nil {
			return Manifest{}, fmt.Errorf("read command %d: %w", i, err)
		}
		var cmd workflow.CommandSpec
		if err := json.Unmarshal(cmdJSON, &cmd); err != nil {
			return Manifest{}, fmt.Errorf("decode command %d: %w", i, err)
		}
		m.Commands = append(m.Commands, cmd)
	}
	return m, nil
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	buf.Write(data)
	return nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
