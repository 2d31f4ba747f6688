//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller and factory.

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

// wakeToken marks events of the wakeup eventfd. Arena tokens never carry a
// zero generation, so they cannot collide with it.
const wakeToken = 0

// epollPoller is an EPOLLONESHOT poller with an eventfd for wakeups.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

// NewPoller constructs the platform poller for Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeIO, err, "epoll create")
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, api.WrapError(api.ErrCodeIO, err, "eventfd")
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, api.WrapError(api.ErrCodeIO, err, "epoll ctl add eventfd")
	}
	return &epollPoller{epfd: epfd, wakefd: wakefd}, nil
}

// setToken stores token in the 64 bits epoll hands back untouched.
func setToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func getToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func epollMask(mask api.Interest) uint32 {
	events := uint32(unix.EPOLLONESHOT)
	if mask.Has(api.InterestRead) {
		// Peer half-close only matters to a reader.
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask.Has(api.InterestWrite) {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) ctl(op int, fd uintptr, token uint64, mask api.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(mask)}
	setToken(&ev, token)
	return unix.EpollCtl(p.epfd, op, int(fd), &ev)
}

// Register adds fd to the epoll set.
func (p *epollPoller) Register(fd uintptr, token uint64, mask api.Interest) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, token, mask); err != nil {
		return api.WrapError(api.ErrCodeIO, err, "epoll ctl add").WithContext("fd", fd)
	}
	return nil
}

// Modify re-arms fd.
func (p *epollPoller) Modify(fd uintptr, token uint64, mask api.Interest) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, token, mask); err != nil {
		return api.WrapError(api.ErrCodeIO, err, "epoll ctl mod").WithContext("fd", fd)
	}
	return nil
}

// Unregister removes fd. A descriptor already closed is not an error.
func (p *epollPoller) Unregister(fd uintptr) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return api.WrapError(api.ErrCodeIO, err, "epoll ctl del").WithContext("fd", fd)
	}
	return nil
}

// Wait collects up to len(events) notifications.
func (p *epollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, api.WrapError(api.ErrCodeIO, err, "epoll wait")
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := &raw[i]
		token := getToken(ev)
		if token == wakeToken {
			p.drainWakeup()
			continue
		}
		e := Event{Token: token}
		if ev.Events&unix.EPOLLIN != 0 {
			e.Ready |= api.InterestRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e.Ready |= api.InterestWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			e.Hangup = true
		}
		events[out] = e
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Wakeup signals the eventfd.
func (p *epollPoller) Wakeup() error {
	buf := [8]byte{1}
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return api.WrapError(api.ErrCodeIO, err, "eventfd write")
	}
	return nil
}

// Close closes the epoll instance and the eventfd.
func (p *epollPoller) Close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
