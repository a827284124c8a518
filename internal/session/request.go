package session

import (
	"context"
	"sync"
)

// DeviceListRequest is an outstanding device enumeration. It settles exactly once.
type DeviceListRequest struct {
	once    sync.Once
	done    chan struct{}
	devices []string
	err     error
}

func newDeviceListRequest() *DeviceListRequest {
	return &DeviceListRequest{done: make(chan struct{})}
}

func rejectedDeviceListRequest(err error) *DeviceListRequest {
	req := newDeviceListRequest()
	req.reject(err)
	return req
}

// Done is closed once the request is resolved or rejected.
func (r *DeviceListRequest) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request settles or ctx is done.
func (r *DeviceListRequest) Wait(ctx context.Context) ([]string, error) {
	select {
	case <-r.done:
		return r.devices, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result blocks until the request settles.
func (r *DeviceListRequest) Result() ([]string, error) {
	<-r.done
	return r.devices, r.err
}

func (r *DeviceListRequest) resolve(devices []string) bool {
	settled := false
	r.once.Do(func() {
		if devices == nil {
			devices = []string{}
		}
		r.devices = devices
		close(r.done)
		settled = true
	})
	return settled
}

func (r *DeviceListRequest) reject(err error) bool {
	settled := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		settled = true
	})
	return settled
}
