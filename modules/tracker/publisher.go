package tracker

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/scene-tracker/modules/codec"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
)

// ErrEncode marks a publish failure caused by our own output failing to
// serialize or validate. This is a programming error, not a broker fault.
var ErrEncode = errors.New("track set encoding failed")

// BrokerPublisher is the slice of the broker client the publish path needs.
type BrokerPublisher interface {
	Publish(topic string, payload []byte, userProps map[string]string) error
}

// publisher is the named boundary between the worker's tracking loop and the
// wire format. Not a goroutine; publish is non-blocking at the client level.
type publisher struct {
	codec  *codec.Codec
	client BrokerPublisher
}

func (p *publisher) publish(ts *model.TrackSet, userProps map[string]string) error {
	payload, err := p.codec.Encode(ts)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEncode, err)
	}
	return p.client.Publish(codec.SceneTopic(ts.SceneID, ts.ThingType), payload, userProps)
}
