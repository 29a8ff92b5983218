// Package chunk addresses the cubic regions the world is streamed in.
package chunk

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/worldgen/mathx"
)

// Coord is a signed chunk address. It is comparable and used as a map key.
type Coord struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d, %d)", c.X, c.Y, c.Z)
}

func (c Coord) Add(o Coord) Coord {
	return Coord{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

// Distance is the Euclidean distance in chunk units.
func (c Coord) Distance(o Coord) float32 {
	dx := float32(c.X - o.X)
	dy := float32(c.Y - o.Y)
	dz := float32(c.Z - o.Z)
	return mathx.Sqrt32(float32(dx*dx) + float32(dy*dy) + float32(dz*dz))
}

// Origin is the world-space minimum corner of the chunk.
func (c Coord) Origin(worldSize float32) mgl32.Vec3 {
	return mgl32.Vec3{float32(c.X) * worldSize, float32(c.Y) * worldSize, float32(c.Z) * worldSize}
}

// Center is the world-space center of the chunk.
func (c Coord) Center(worldSize float32) mgl32.Vec3 {
	half := worldSize * 0.5
	return c.Origin(worldSize).Add(mgl32.Vec3{half, half, half})
}

// Contains reports whether the horizontal footprint of c holds (x, y).
func (c Coord) Contains(x, y, worldSize float32) bool {
	o := c.Origin(worldSize)
	return x >= o.X() && x < o.X()+worldSize && y >= o.Y() && y < o.Y()+worldSize
}

// FromWorld floors a world position into the chunk that holds it.
func FromWorld(pos mgl32.Vec3, worldSize float32) Coord {
	return Coord{
		X: mathx.FloorToInt32(pos.X() / worldSize),
		Y: mathx.FloorToInt32(pos.Y() / worldSize),
		Z: mathx.FloorToInt32(pos.Z() / worldSize),
	}
}

// Key is the canonical "x_y_z" form used in file names and index rows.
func (c Coord) Key() string {
	return fmt.Sprintf("%d_%d_%d", c.X, c.Y, c.Z)
}

// ParseKey is the inverse of Key.
func ParseKey(s string) (Coord, error) {
	var c Coord
	if _, err := fmt.Sscanf(s, "%d_%d_%d", &c.X, &c.Y, &c.Z); err != nil {
		return Coord{}, fmt.Errorf("chunk key %q: %w", s, err)
	}
	return c, nil
}

// Less orders coordinates by X, then Y, then Z.
func Less(a, b Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
