package acquisition

import (
	"context"
	"image"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/pixel"
)

func recordRaw(d driver.Driver, blob *ccf.File) (video.Reader, error) {
	raw, err := d.(RawRecorder).RawRecord(blob.Media())
	if err != nil {
		return nil, err
	}
	process, err := hostProcessor(blob)
	if err != nil {
		return nil, multierr.Combine(err, utils.TryClose(context.Background(), raw))
	}
	return &rawVideoReader{raw: raw, process: process}, nil
}

// hostProcessor returns the conversion from raw device data to an image.
func hostProcessor(blob *ccf.File) (func(data []byte) (image.Image, func(), error), error) {
	if pixel.IsNative(blob.Format) {
		return func(data []byte) (image.Image, func(), error) {
			img, err := pixel.Unpack(data, blob.Format, blob.Width, blob.Height)
			return img, func() {}, err
		}, nil
	}
	decoder, err := frame.NewDecoder(blob.Format)
	if err != nil {
		return nil, err
	}
	return func(data []byte) (image.Image, func(), error) {
		return decoder.Decode(data, blob.Width, blob.Height)
	}, nil
}

type rawVideoReader struct {
	raw     RawReader
	process func(data []byte) (image.Image, func(), error)
}

func (r *rawVideoReader) Read() (image.Image, func(), error) {
	data, releaseRaw, err := r.raw.ReadRaw()
	if err != nil {
		return nil, nil, err
	}
	img, releaseImg, err := r.process(data)
	if err != nil {
		if releaseRaw != nil {
			releaseRaw()
		}
		return nil, nil, err
	}
	return img, func() {
		if releaseImg != nil {
			releaseImg()
		}
		if releaseRaw != nil {
			releaseRaw()
		}
	}, nil
}

func (r *rawVideoReader) Close(ctx context.Context) error {
	return utils.TryClose(ctx, r.raw)
}
