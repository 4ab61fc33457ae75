package network

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/pyropy/renderfarm/lib/utils"
)

const maxProviders = 20

// fileKey maps a file name to its provider directory key.
func fileKey(fileName string) (cid.Cid, error) {
	mh, err := multihash.Sum([]byte(fileName), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}

	return cid.NewCidV1(cid.Raw, mh), nil
}

func (c *Controller) provide(ctx context.Context, fileName string) {
	key, err := fileKey(fileName)
	if err != nil {
		c.log.Errorw("directory", "status", "bad file key", "file", fileName, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	// the local provider record is kept even when no peer could be reached;
	// the file is re-provided on the next connection
	if err := c.dht.Provide(ctx, key, true); err != nil {
		c.log.Debugw("directory", "status", "provide not propagated", "file", fileName, "error", err)
		return
	}

	c.log.Infow("directory", "status", "providing", "file", fileName)
}

func (c *Controller) findProviders(ctx context.Context, fileName string) ([]peer.ID, error) {
	key, err := fileKey(fileName)
	if err != nil {
		return nil, err
	}

	return collectProviders(c.dht.FindProvidersAsync(ctx, key, maxProviders)), nil
}

// collectProviders drains found until it is closed, which happens once the
// lookup has finished or its context expired. Providers seen before that
// are kept.
func collectProviders(found <-chan peer.AddrInfo) []peer.ID {
	providers := make([]peer.ID, 0)
	for pi := range found {
		providers = append(providers, pi.ID)
	}

	return utils.Unique(providers)
}
