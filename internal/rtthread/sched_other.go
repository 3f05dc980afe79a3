//go:build !linux
// +build !linux

package rtthread

func setRealtime(int) error {
	return ErrRealtimeUnsupported
}
