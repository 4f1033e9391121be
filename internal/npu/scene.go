package npu

import (
	"context"
	"fmt"
)

// Scene is a gateway-stored lighting scene.
type Scene struct {
	number  int
	areaNum int
	id      string
	name    string
	hub     commandSender
}

func newScene(serial string, rec sceneRecord, hub commandSender) *Scene {
	return &Scene{
		number:  rec.Number,
		areaNum: rec.AreaNum,
		id:      sceneID(serial, rec.Number),
		name:    rec.Name,
		hub:     hub,
	}
}

// ID returns the stable scene identity.
func (s *Scene) ID() string { return s.id }

// Name returns the scene name as configured on the gateway.
func (s *Scene) Name() string { return s.name }

// Number returns the gateway scene number.
func (s *Scene) Number() int { return s.number }

// AreaNumber returns the area the scene belongs to.
func (s *Scene) AreaNumber() int { return s.areaNum }

// Recall activates the scene at its programmed levels and fade time.
func (s *Scene) Recall(ctx context.Context) error {
	if err := s.hub.send(ctx, fmt.Sprintf("$SCNRECALL,%d;", s.number)); err != nil {
		return err
	}
	s.hub.logger().Debug("scene recalled", "scene", s.number)
	return nil
}

// RecallAt activates the scene scaled to the given level (0-255) with an
// explicit fade time in milliseconds.
func (s *Scene) RecallAt(ctx context.Context, level, fadeMs int) error {
	level = clampLevel(level)
	if fadeMs < 0 {
		fadeMs = 0
	}
	if err := s.hub.send(ctx, fmt.Sprintf("$SCNRECALLX,%d,%d,%d;", s.number, level, fadeMs)); err != nil {
		return err
	}
	s.hub.logger().Debug("scene recalled at level", "scene", s.number, "level", level, "fade_ms", fadeMs)
	return nil
}

// Off deactivates the scene.
func (s *Scene) Off(ctx context.Context) error {
	if err := s.hub.send(ctx, fmt.Sprintf("$SCNOFF,%d;", s.number)); err != nil {
		return err
	}
	s.hub.logger().Debug("scene turned off", "scene", s.number)
	return nil
}
