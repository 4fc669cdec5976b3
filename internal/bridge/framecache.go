package bridge

import (
	"image"
	"sync"

	"github.com/golang/snappy"
)

// frameCache holds the most recent captured frame in snappy-compressed form.
// Raw 1080p RGBA frames run ~8MB each; keeping one per instance uncompressed
// adds up quickly across a fleet of emulators, and screen content compresses
// well. The cache trades a cheap encode/decode for that memory.
type frameCache struct {
	mu     sync.Mutex
	pix    []byte // snappy-compressed NRGBA pixels
	width  int
	height int
}

func newFrameCache() *frameCache {
	return &frameCache{}
}

// put compresses and stores the frame, replacing any previous one.
func (c *frameCache) put(img *image.NRGBA) {
	compressed := snappy.Encode(nil, img.Pix)
	c.mu.Lock()
	c.pix = compressed
	c.width = img.Rect.Dx()
	c.height = img.Rect.Dy()
	c.mu.Unlock()
}

// get decodes the cached frame into a fresh image. The second return is false
// when no frame has been captured yet.
func (c *frameCache) get() (image.Image, bool) {
	c.mu.Lock()
	compressed := c.pix
	width, height := c.width, c.height
	c.mu.Unlock()

	if compressed == nil {
		return nil, false
	}
	pix, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}, true
}
