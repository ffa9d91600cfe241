package blockdevice

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme enumerates the supported device URI schemes.
type Scheme string

const (
	SchemeNvmf     Scheme = "nvmf"
	SchemeIscsi    Scheme = "iscsi"
	SchemeMalloc   Scheme = "malloc"
	SchemeAio      Scheme = "aio"
	SchemeUring    Scheme = "uring"
	SchemeBdev     Scheme = "bdev"
	SchemeLoopback Scheme = "loopback"
)

// ParsedURI is the decoded form of a device URI.
type ParsedURI struct {
	Scheme Scheme
	Host   string // nvmf/iscsi only
	Port   int    // nvmf/iscsi only
	Subsys string // nqn/iqn (nvmf/iscsi) or name (malloc/bdev) or path (aio/uring) or uuid (loopback)
	Nsid   string // nvmf nsid / iscsi lun, optional

	UUID      string
	BlockSize int
	SizeMB    int
	NumBlocks int
	IOTimeout string
}

// ParseURI parses a device URI. Unknown query parameters are rejected;
// size_mb and num_blocks are mutually exclusive; blk_size, when present,
// must be 512 or 4096.
func ParseURI(raw string) (*ParsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUri, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidUri)
	}

	p := &ParsedURI{Scheme: Scheme(u.Scheme)}

	switch p.Scheme {
	case SchemeNvmf, SchemeIscsi:
		p.Host = u.Hostname()
		if portStr := u.Port(); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("%w: bad port %q", ErrInvalidUri, portStr)
			}
			p.Port = port
		}
		path := strings.TrimPrefix(u.Path, "/")
		parts := strings.SplitN(path, "/", 2)
		if parts[0] == "" {
			return nil, fmt.Errorf("%w: missing nqn/iqn", ErrInvalidUri)
		}
		p.Subsys = parts[0]
		if len(parts) == 2 {
			p.Nsid = parts[1]
		}
	case SchemeMalloc, SchemeBdev:
		p.Subsys = strings.TrimPrefix(u.Path, "/")
		if p.Subsys == "" && u.Opaque != "" {
			p.Subsys = u.Opaque
		}
	case SchemeAio, SchemeUring:
		p.Subsys = u.Path
	case SchemeLoopback:
		p.Subsys = strings.TrimPrefix(u.Path, "/")
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidUri, u.Scheme)
	}

	q := u.Query()
	known := map[string]bool{
		"uuid": true, "ioTimeout": true, "size_mb": true, "blk_size": true, "num_blocks": true,
	}
	for key := range q {
		if !known[key] {
			return nil, fmt.Errorf("%w: unknown query parameter %q", ErrInvalidUri, key)
		}
	}

	p.UUID = q.Get("uuid")
	p.IOTimeout = q.Get("ioTimeout")

	hasSizeMB := q.Has("size_mb")
	hasNumBlocks := q.Has("num_blocks")
	if hasSizeMB && hasNumBlocks {
		return nil, fmt.Errorf("%w: size_mb and num_blocks are mutually exclusive", ErrInvalidUri)
	}
	if hasSizeMB {
		v, err := strconv.Atoi(q.Get("size_mb"))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: bad size_mb", ErrInvalidUri)
		}
		p.SizeMB = v
	}
	if hasNumBlocks {
		v, err := strconv.Atoi(q.Get("num_blocks"))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: bad num_blocks", ErrInvalidUri)
		}
		p.NumBlocks = v
	}
	if bs := q.Get("blk_size"); bs != "" {
		v, err := strconv.Atoi(bs)
		if err != nil || (v != 512 && v != 4096) {
			return nil, fmt.Errorf("%w: blk_size must be 512 or 4096", ErrInvalidUri)
		}
		p.BlockSize = v
	}

	return p, nil
}

// BuildShareURI constructs the share URI advertised after a successful
// Share call, embedding host/port/nqn and a UUID-derived suffix used for
// device lookup.
func BuildShareURI(protocol Protocol, host string, port int, nqnPrefix, deviceUUID string) string {
	if protocol != ProtocolNvmf {
		return ""
	}
	nqn := fmt.Sprintf("%s:uuid:%s", nqnPrefix, deviceUUID)
	return fmt.Sprintf("nvmf://%s:%d/%s", host, port, nqn)
}
