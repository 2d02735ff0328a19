package twamp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sockoptControl returns a net.Dialer / net.ListenConfig Control function
// applying TTL/hop-limit, TOS/traffic-class, and the IPv4 don't-fragment
// flag before the socket is bound or connected.
func sockoptControl(ipv6 bool, ttl, tos int, df bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			set := func(level, opt, value int) {
				if e := unix.SetsockoptInt(int(fd), level, opt, value); e != nil && optErr == nil {
					optErr = e
				}
			}
			if ipv6 {
				set(unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
				set(unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
			} else {
				set(unix.IPPROTO_IP, unix.IP_TTL, ttl)
				set(unix.IPPROTO_IP, unix.IP_TOS, tos)
				if df {
					set(unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
				}
			}
		})
		if err != nil {
			return err
		}
		return optErr
	}
}
