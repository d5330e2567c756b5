// Package ipchecker decides whether a request comes from one of the
// operator subnets.
package ipchecker

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

type IPChecker struct {
	trustedSubnets []*net.IPNet
}

// New parses the CIDR blocks of trustedSubnets. With no blocks every
// address is untrusted.
func New(trustedSubnets []string) (*IPChecker, error) {
	checker := &IPChecker{}

	for _, subnet := range trustedSubnets {
		subnet = strings.TrimSpace(subnet)
		if subnet == "" {
			continue
		}

		_, allowedNet, err := net.ParseCIDR(subnet)
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
		}
		checker.trustedSubnets = append(checker.trustedSubnets, allowedNet)
	}

	return checker, nil
}

func (checker *IPChecker) Contains(clientIP net.IP) bool {
	if clientIP == nil {
		return false
	}

	for _, subnet := range checker.trustedSubnets {
		if subnet.Contains(clientIP) {
			return true
		}
	}

	return false
}

// Trusts reports whether the client address of request is inside a trusted subnet.
func (checker *IPChecker) Trusts(request *http.Request) bool {
	if len(checker.trustedSubnets) == 0 {
		return false
	}

	clientIP, err := ClientIP(request)
	if err != nil {
		return false
	}

	return checker.Contains(clientIP)
}

// ClientIP takes the address from X-Real-IP, then the first X-Forwarded-For
// hop, then RemoteAddr.
func ClientIP(request *http.Request) (net.IP, error) {
	if ip := net.ParseIP(strings.TrimSpace(request.Header.Get("X-Real-IP"))); ip != nil {
		return ip, nil
	}

	if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip, nil
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/ClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("unparsable client address %q", host)
	}

	return ip, nil
}
