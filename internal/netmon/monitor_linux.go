//go:build linux

package netmon

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/joshuafuller/ipadapter/internal/errors"
)

func newPlatformMonitor(log logrus.FieldLogger) Monitor {
	return NewNetlinkMonitor(log)
}

// NetlinkMonitor watches rtnetlink link and address notifications
// (RTMGRP_LINK, RTMGRP_IPV4_IFADDR, RTMGRP_IPV6_IFADDR).
type NetlinkMonitor struct {
	log     logrus.FieldLogger
	changes chan Change
	done    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// NewNetlinkMonitor creates an unstarted netlink monitor.
func NewNetlinkMonitor(log logrus.FieldLogger) *NetlinkMonitor {
	return &NetlinkMonitor{
		log:     log,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
}

// Changes implements Monitor.
func (m *NetlinkMonitor) Changes() <-chan Change { return m.changes }

// Start subscribes to link and address updates. A failed subscription is
// returned; the adapter then runs without change notifications.
func (m *NetlinkMonitor) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		addrCh := make(chan netlink.AddrUpdate, 16)
		linkCh := make(chan netlink.LinkUpdate, 16)
		onErr := func(err error) {
			m.log.WithError(err).Warn("netlink subscription error")
		}

		if err = netlink.AddrSubscribeWithOptions(addrCh, m.done, netlink.AddrSubscribeOptions{ErrorCallback: onErr}); err != nil {
			err = &errors.NetworkError{Operation: "subscribe address changes", Err: err}
			return
		}
		if err = netlink.LinkSubscribeWithOptions(linkCh, m.done, netlink.LinkSubscribeOptions{ErrorCallback: onErr}); err != nil {
			err = &errors.NetworkError{Operation: "subscribe link changes", Err: err}
			return
		}

		go m.forward(ctx, addrCh, linkCh)
	})
	return err
}

func (m *NetlinkMonitor) forward(ctx context.Context, addrCh <-chan netlink.AddrUpdate, linkCh <-chan netlink.LinkUpdate) {
	for {
		var c Change
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case u, ok := <-addrCh:
			if !ok {
				return
			}
			c = Change{Index: u.LinkIndex, Kind: ChangeAddr}
		case u, ok := <-linkCh:
			if !ok {
				return
			}
			c = Change{Index: u.Attrs().Index, Kind: ChangeLink}
		}

		m.log.WithFields(logrus.Fields{"index": c.Index, "kind": c.Kind}).Debug("interface change")
		select {
		case m.changes <- c:
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// List enumerates addresses through rtnetlink.
func (m *NetlinkMonitor) List(index int) ([]Interface, error) {
	var links []netlink.Link
	if index != 0 {
		l, err := netlink.LinkByIndex(index)
		if err != nil {
			return nil, &errors.NetworkError{Operation: "list interfaces", Err: err}
		}
		links = []netlink.Link{l}
	} else {
		all, err := netlink.LinkList()
		if err != nil {
			return nil, &errors.NetworkError{Operation: "list interfaces", Err: err}
		}
		links = all
	}

	var out []Interface
	for _, l := range links {
		attrs := l.Attrs()
		flags := attrs.Flags
		// Interfaces without carrier detection report an unknown operstate.
		if attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown {
			flags |= net.FlagRunning
		}

		addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
		if err != nil {
			m.log.WithError(err).WithField("interface", attrs.Name).Debug("address list failed")
			continue
		}
		for _, a := range addrs {
			if a.IPNet == nil || !usable(flags, a.IP) {
				continue
			}
			out = append(out, Interface{
				Name:   attrs.Name,
				Index:  attrs.Index,
				Family: familyOf(a.IP),
				Addr:   a.IP.String(),
				Flags:  flags,
			})
		}
	}
	return out, nil
}

// Close ends the subscriptions.
func (m *NetlinkMonitor) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
