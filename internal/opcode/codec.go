package opcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Encode renders op using the deterministic binary tagged-union format from
// spec.md §6: u64 seq, u64 timestamp_ns, u8 tag, then tag-specific fields.
// Strings are u32 len + UTF-8 bytes (no terminator); byte sequences are u64
// len + bytes. Equal opcodes always produce equal bytes (spec.md O-series,
// Testable Property 3).
func Encode(op Op) []byte {
	var buf bytes.Buffer
	buf.Grow(64)

	writeU64(&buf, op.Seq)
	writeU64(&buf, op.TimestampNS)
	buf.WriteByte(byte(op.Operation.Tag()))
	encodeOperation(&buf, op.Operation)

	return buf.Bytes()
}

// Decode parses bytes previously produced by Encode.
func Decode(b []byte) (Op, error) {
	r := bytes.NewReader(b)

	seq, err := readU64(r)
	if err != nil {
		return Op{}, fmt.Errorf("opcode: read seq: %w", err)
	}
	ts, err := readU64(r)
	if err != nil {
		return Op{}, fmt.Errorf("opcode: read timestamp: %w", err)
	}
	tagByte, err := r.ReadByte()
	if err != nil {
		return Op{}, fmt.Errorf("opcode: read tag: %w", err)
	}

	operation, err := decodeOperation(r, Tag(tagByte))
	if err != nil {
		return Op{}, fmt.Errorf("opcode: decode %s: %w", Tag(tagByte), err)
	}

	return Op{Seq: seq, TimestampNS: ts, Operation: operation}, nil
}

func encodeOperation(buf *bytes.Buffer, op Operation) {
	switch o := op.(type) {
	case FileCreate:
		writeString(buf, o.Path)
		writeU32(buf, uint32(o.Mode))
		writeBytes(buf, o.Content)
	case FileWrite:
		writeString(buf, o.Path)
		writeU64(buf, o.Offset)
		writeBytes(buf, o.Data)
	case FileTruncate:
		writeString(buf, o.Path)
		writeU64(buf, o.NewSize)
	case FileDelete:
		writeString(buf, o.Path)
	case FileRename:
		writeString(buf, o.OldPath)
		writeString(buf, o.NewPath)
	case DirCreate:
		writeString(buf, o.Path)
		writeU32(buf, uint32(o.Mode))
	case DirDelete:
		writeString(buf, o.Path)
	case DirRename:
		writeString(buf, o.OldPath)
		writeString(buf, o.NewPath)
		writeRenameEntries(buf, o.Entries)
	case SetPermissions:
		writeString(buf, o.Path)
		writeU32(buf, uint32(o.Mode))
	case SetTimestamps:
		writeString(buf, o.Path)
		writeOptionalI64(buf, o.Atime)
		writeOptionalI64(buf, o.Mtime)
	case SetOwnership:
		writeString(buf, o.Path)
		writeOptionalU32(buf, o.Uid)
		writeOptionalU32(buf, o.Gid)
	case SymlinkCreate:
		writeString(buf, o.Path)
		writeString(buf, o.Target)
	case SymlinkDelete:
		writeString(buf, o.Path)
	case HardLinkCreate:
		writeString(buf, o.ExistingPath)
		writeString(buf, o.NewPath)
	default:
		panic(fmt.Sprintf("opcode: unencodable operation type %T", op))
	}
}

func decodeOperation(r *bytes.Reader, tag Tag) (Operation, error) {
	switch tag {
	case TagFileCreate:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		mode, err := readU32(r)
		if err != nil {
			return nil, err
		}
		content, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return FileCreate{Path: path, Mode: os.FileMode(mode), Content: content}, nil

	case TagFileWrite:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		offset, err := readU64(r)
		if err != nil {
			return nil, err
		}
		data, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return FileWrite{Path: path, Offset: offset, Data: data}, nil

	case TagFileTruncate:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		size, err := readU64(r)
		if err != nil {
			return nil, err
		}
		return FileTruncate{Path: path, NewSize: size}, nil

	case TagFileDelete:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		return FileDelete{Path: path}, nil

	case TagFileRename:
		oldPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		newPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		return FileRename{OldPath: oldPath, NewPath: newPath}, nil

	case TagDirCreate:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		mode, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return DirCreate{Path: path, Mode: os.FileMode(mode)}, nil

	case TagDirDelete:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		return DirDelete{Path: path}, nil

	case TagDirRename:
		oldPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		newPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		entries, err := readRenameEntries(r)
		if err != nil {
			return nil, err
		}
		return DirRename{OldPath: oldPath, NewPath: newPath, Entries: entries}, nil

	case TagSetPermissions:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		mode, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return SetPermissions{Path: path, Mode: os.FileMode(mode)}, nil

	case TagSetTimestamps:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		atime, err := readOptionalI64(r)
		if err != nil {
			return nil, err
		}
		mtime, err := readOptionalI64(r)
		if err != nil {
			return nil, err
		}
		return SetTimestamps{Path: path, Atime: atime, Mtime: mtime}, nil

	case TagSetOwnership:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		uid, err := readOptionalU32(r)
		if err != nil {
			return nil, err
		}
		gid, err := readOptionalU32(r)
		if err != nil {
			return nil, err
		}
		return SetOwnership{Path: path, Uid: uid, Gid: gid}, nil

	case TagSymlinkCreate:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		target, err := readString(r)
		if err != nil {
			return nil, err
		}
		return SymlinkCreate{Path: path, Target: target}, nil

	case TagSymlinkDelete:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		return SymlinkDelete{Path: path}, nil

	case TagHardLinkCreate:
		existing, err := readString(r)
		if err != nil {
			return nil, err
		}
		newPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		return HardLinkCreate{ExistingPath: existing, NewPath: newPath}, nil

	default:
		return nil, fmt.Errorf("unknown tag %d", tag)
	}
}

////////////////////////////////////////////////////////////////////////
// Primitive encoders/decoders
////////////////////////////////////////////////////////////////////////

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU64(buf, uint64(len(b)))
	buf.Write(b)
}

func writeOptionalI64(buf *bytes.Buffer, v *int64) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(*v))
	buf.Write(tmp[:])
}

func writeOptionalU32(buf *bytes.Buffer, v *uint32) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeU32(buf, *v)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readOptionalI64(r *bytes.Reader) (*int64, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}
	v := int64(binary.BigEndian.Uint64(tmp[:]))
	return &v, nil
}

func writeRenameEntries(buf *bytes.Buffer, entries []RenameEntry) {
	writeU32(buf, uint32(len(entries)))
	for _, e := range entries {
		writeString(buf, e.OldPath)
		writeString(buf, e.NewPath)
	}
}

func readRenameEntries(r *bytes.Reader) ([]RenameEntry, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	entries := make([]RenameEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		oldPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		newPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, RenameEntry{OldPath: oldPath, NewPath: newPath})
	}
	return entries, nil
}

func readOptionalU32(r *bytes.Reader) (*uint32, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	v, err := readU32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
