package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

// Algorithm names a supported content digest function.
type Algorithm string

const SHA256 = Algorithm("sha2-256")
const BLAKE3 = Algorithm("blake3")

// Valid reports whether a is a supported digest algorithm.
func (a Algorithm) Valid() bool {
	return a == SHA256 || a == BLAKE3
}

// Sum returns a CIDv1 with the "raw" multicodec over data, hashed with algo.
func Sum(data []byte, algo Algorithm) (cid.Cid, error) {
	var (
		mh  multihash.Multihash
		err error
	)
	switch algo {
	case SHA256, "":
		mh, err = multihash.Sum(data, multihash.SHA2_256, -1)
	case BLAKE3:
		sum := blake3.Sum256(data)
		mh, err = multihash.Encode(sum[:], multihash.BLAKE3)
	default:
		return cid.Undef, xerrors.Errorf("unsupported digest algorithm %q", algo)
	}
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// SumString is Sum returning the string form of the CID.
func SumString(data []byte, algo Algorithm) (string, error) {
	c, err := Sum(data, algo)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// AlgorithmOf returns the digest algorithm encoded in a CID string.
func AlgorithmOf(digest string) (Algorithm, error) {
	c, err := cid.Decode(digest)
	if err != nil {
		return "", err
	}
	switch c.Prefix().MhType {
	case multihash.SHA2_256:
		return SHA256, nil
	case multihash.BLAKE3:
		return BLAKE3, nil
	}
	return "", xerrors.Errorf("unsupported multihash code 0x%x in %s", c.Prefix().MhType, digest)
}

// Recompute hashes data with the algorithm of digest and returns the resulting CID string.
func Recompute(digest string, data []byte) (string, error) {
	algo, err := AlgorithmOf(digest)
	if err != nil {
		return "", err
	}
	return SumString(data, algo)
}
