package xpressnet

import "context"

// Controller is the single capability interface both the real serial
// transport and the mock controller satisfy (Design Note §9: dynamic
// dispatch between a real and a mock controller becomes one interface
// instead of a type switch).
type Controller interface {
	Throttle(ctx context.Context, addr, speed int, dir Direction) error
	Stop(ctx context.Context, addr int, dir Direction) error
	Function(ctx context.Context, addr, n int, on bool) error
	GetState(ctx context.Context, addr int) error
	Accessory(ctx context.Context, addr int, dir Direction) error
	GetStatus(ctx context.Context) error
	GetVersion(ctx context.Context) error
	EmergencyOff(ctx context.Context) error
	ResumeNormalOperations(ctx context.Context) error
	IsConnected() bool
}
