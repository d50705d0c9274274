// Package codec transforms between broker payloads and in-memory pipeline
// types. Both message schemas are embedded so validation never depends on
// files shipped next to the binary.
package codec

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/xeipuuv/gojsonschema"

	"github.com/open-edge-platform/scene-tracker/pkg/model"
	"github.com/open-edge-platform/scene-tracker/pkg/obs"
)

// CameraTopicPrefix is the fixed prefix of inbound detection topics. The
// camera ID is the single segment after it.
const CameraTopicPrefix = "scenescape/data/camera/"

var (
	// ErrParse means the payload was not usable JSON of the expected shape.
	ErrParse = errors.New("payload parse failed")
	// ErrSchemaInvalid means the payload parsed but violated the schema.
	ErrSchemaInvalid = errors.New("payload failed schema validation")
)

//go:embed schemas/camera-data.schema.json
var cameraSchemaJSON []byte

//go:embed schemas/scene-data.schema.json
var sceneSchemaJSON []byte

// Codec parses camera-data payloads and serializes scene-data payloads for
// one scene.
type Codec struct {
	logger   log.Logger
	sceneID  string
	validate bool

	cameraSchema *gojsonschema.Schema
	sceneSchema  *gojsonschema.Schema
}

// New compiles the embedded schemas and returns a codec bound to sceneID.
func New(sceneID string, validate bool, logger log.Logger) (*Codec, error) {
	cameraSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cameraSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile camera-data schema: %w", err)
	}
	sceneSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(sceneSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile scene-data schema: %w", err)
	}

	return &Codec{
		logger:       log.With(logger, "component", "codec"),
		sceneID:      sceneID,
		validate:     validate,
		cameraSchema: cameraSchema,
		sceneSchema:  sceneSchema,
	}, nil
}

// CameraIDFromTopic extracts the camera ID as the last topic segment after
// the camera topic prefix. Empty result means the topic is malformed.
func CameraIDFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, CameraTopicPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// SceneTopic builds the outbound topic for one scope's track sets.
func SceneTopic(sceneID, thingType string) string {
	return "scenescape/data/scene/" + sceneID + "/" + thingType
}

type bboxJSON struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type detectionJSON struct {
	ID   *int      `json:"id"`
	BBox *bboxJSON `json:"bounding_box_px"`
}

type cameraMessage struct {
	ID        string                       `json:"id"`
	Timestamp string                       `json:"timestamp"`
	Objects   map[string][]json.RawMessage `json:"objects"`
}

// Decode parses one camera-data payload into one DetectionBatch per
// category. Each batch gets its own ObservabilityContext because each is
// routed to a different scope. On error the drop has already been accounted
// with the matching reason.
//
// Categories with no valid detections produce no batch. Detections missing
// bounding box fields are skipped with a warning; a wrong-typed field
// anywhere rejects the whole message as schema invalid.
func (c *Codec) Decode(topic string, payload []byte, userProps map[string]string, receivedAt time.Time) ([]*model.DetectionBatch, error) {
	cameraID := CameraIDFromTopic(topic)
	if cameraID == "" {
		c.abortDrop(userProps, "unknown", receivedAt, obs.ReasonParseError)
		return nil, fmt.Errorf("%w: cannot extract camera ID from topic %q", ErrParse, topic)
	}

	if c.validate {
		result, err := c.cameraSchema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			c.abortDrop(userProps, "unknown", receivedAt, obs.ReasonParseError)
			return nil, fmt.Errorf("%w: %s", ErrParse, err)
		}
		if !result.Valid() {
			c.abortDrop(userProps, "unknown", receivedAt, obs.ReasonSchemaInvalid)
			return nil, fmt.Errorf("%w: %s", ErrSchemaInvalid, describeViolations(result))
		}
	}

	var msg cameraMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		reason := obs.ReasonParseError
		werr := ErrParse
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			reason = obs.ReasonSchemaInvalid
			werr = ErrSchemaInvalid
		}
		c.abortDrop(userProps, "unknown", receivedAt, reason)
		return nil, fmt.Errorf("%w: %s", werr, err)
	}
	if msg.ID == "" || msg.Timestamp == "" || msg.Objects == nil {
		c.abortDrop(userProps, "unknown", receivedAt, obs.ReasonParseError)
		return nil, fmt.Errorf("%w: missing required field id, timestamp or objects", ErrParse)
	}

	if msg.ID != cameraID {
		level.Debug(c.logger).Log("msg", "camera ID mismatch between topic and payload", "topic_id", cameraID, "payload_id", msg.ID)
	}

	categories := make([]string, 0, len(msg.Objects))
	for category := range msg.Objects {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	// decode everything before creating any context, so a rejected message
	// never leaves half its categories with live batches
	type decodedCategory struct {
		category   string
		detections []model.Detection
	}
	decoded := make([]decodedCategory, 0, len(categories))
	for _, category := range categories {
		detections, err := c.decodeDetections(cameraID, category, msg.Objects[category])
		if err != nil {
			c.abortDrop(userProps, category, receivedAt, obs.ReasonSchemaInvalid)
			return nil, fmt.Errorf("%w: %s", ErrSchemaInvalid, err)
		}
		if len(detections) == 0 {
			continue
		}
		decoded = append(decoded, decodedCategory{category: category, detections: detections})
	}

	batches := make([]*model.DetectionBatch, 0, len(decoded))
	for _, dc := range decoded {
		ctx := obs.NewContext(userProps, c.sceneID, dc.category, receivedAt, c.logger)
		ctx.Enter(obs.StageParse)
		batches = append(batches, &model.DetectionBatch{
			CameraID:   cameraID,
			Timestamp:  receivedAt,
			WallClock:  msg.Timestamp,
			Detections: dc.detections,
			ObsCtx:     ctx,
		})
	}
	return batches, nil
}

func (c *Codec) decodeDetections(cameraID, category string, raw []json.RawMessage) ([]model.Detection, error) {
	detections := make([]model.Detection, 0, len(raw))
	for _, r := range raw {
		var d detectionJSON
		if err := json.Unmarshal(r, &d); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, fmt.Errorf("wrong type for detection field %q in category %s: %s", typeErr.Field, category, err)
			}
			level.Warn(c.logger).Log("msg", "skipping malformed detection", "camera", cameraID, "category", category, "err", err)
			continue
		}
		if d.BBox == nil || d.BBox.X == nil || d.BBox.Y == nil || d.BBox.Width == nil || d.BBox.Height == nil {
			level.Warn(c.logger).Log("msg", "skipping detection with missing bounding_box_px fields", "camera", cameraID, "category", category)
			continue
		}
		detections = append(detections, model.Detection{
			ID: d.ID,
			BBoxPx: model.BoundingBoxPx{
				X:      *d.BBox.X,
				Y:      *d.BBox.Y,
				Width:  *d.BBox.Width,
				Height: *d.BBox.Height,
			},
		})
	}
	return detections, nil
}

// abortDrop accounts for a message dropped before any batch exists. The
// context is created only to carry the drop into metrics and traces;
// category is "unknown" when the failure precedes category discovery.
func (c *Codec) abortDrop(userProps map[string]string, category string, receivedAt time.Time, reason obs.Reason) {
	ctx := obs.NewContext(userProps, c.sceneID, category, receivedAt, c.logger)
	ctx.Enter(obs.StageParse)
	ctx.Abort(reason)
}

type trackJSON struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Translation [3]float64 `json:"translation"`
	Velocity    [3]float64 `json:"velocity"`
	Size        [3]float64 `json:"size"`
	Rotation    [4]float64 `json:"rotation"`
}

type sceneMessage struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Objects   []trackJSON `json:"objects"`
}

// Encode serializes a TrackSet into a scene-data payload. With validation
// enabled the codec checks its own output and fails loudly on violation,
// since that can only be a bug.
func (c *Codec) Encode(ts *model.TrackSet) ([]byte, error) {
	msg := sceneMessage{
		ID:        ts.SceneID,
		Name:      ts.SceneName,
		Type:      ts.ThingType,
		Timestamp: ts.Timestamp,
		Objects:   make([]trackJSON, 0, len(ts.Tracks)),
	}
	for _, t := range ts.Tracks {
		msg.Objects = append(msg.Objects, trackJSON{
			ID:          t.ID,
			Category:    t.Category,
			Translation: t.Translation,
			Velocity:    t.Velocity,
			Size:        t.Size,
			Rotation:    t.Rotation,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	if c.validate {
		result, err := c.sceneSchema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to validate scene-data output: %w", err)
		}
		if !result.Valid() {
			violations := describeViolations(result)
			level.Error(c.logger).Log("msg", "output message failed schema validation, this is a bug", "violations", violations)
			return nil, fmt.Errorf("scene-data output failed schema validation: %s", violations)
		}
	}
	return payload, nil
}

func describeViolations(result *gojsonschema.Result) string {
	parts := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
