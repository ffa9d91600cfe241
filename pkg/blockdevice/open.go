package blockdevice

import (
	"fmt"
)

const defaultBlockLen = 4096

// Open resolves a device URI to a Descriptor, dispatching to the variant
// implied by the scheme. readWrite is currently advisory; all variants open
// read-write and rely on the caller (NexusChild) to enforce access mode.
func Open(uri string, readWrite bool) (Descriptor, error) {
	p, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	blockLen := uint32(defaultBlockLen)
	if p.BlockSize != 0 {
		blockLen = uint32(p.BlockSize)
	}

	switch p.Scheme {
	case SchemeMalloc:
		numBlocks := uint64(p.NumBlocks)
		if p.SizeMB != 0 {
			numBlocks = uint64(p.SizeMB) * 1024 * 1024 / uint64(blockLen)
		}
		if numBlocks == 0 {
			return nil, fmt.Errorf("%w: malloc device requires size_mb or num_blocks", ErrInvalidUri)
		}
		return &mallocDescriptor{dev: newMallocDevice(p.Subsys, blockLen, numBlocks)}, nil

	case SchemeAio, SchemeUring, SchemeBdev:
		dev, err := openFileDevice(p.Subsys, p.Subsys, blockLen)
		if err != nil {
			return nil, err
		}
		return &fileDescriptor{dev: dev}, nil

	case SchemeNvmf, SchemeIscsi, SchemeLoopback:
		dev, err := openRemoteDevice(uri)
		if err != nil {
			return nil, err
		}
		return &remoteDescriptor{dev: dev}, nil

	default:
		return nil, fmt.Errorf("%w: unhandled scheme %q", ErrInvalidUri, p.Scheme)
	}
}
