package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// infoRequest sends a semicolon-less, newline-terminated list of command
// names to conn and parses the tab-separated name\tvalue reply lines
// (§4.5, §6.1). Each requested name appears as a key in the result even
// when the server's reply has no value.
func infoRequest(ctx context.Context, conn net.Conn, timeout time.Duration, names ...string) (map[string]string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	defer conn.SetDeadline(time.Time{})

	req := strings.Join(names, "\n")
	if req != "" {
		req += "\n"
	}

	var header [8]byte
	if err := encodeProtoHeader(header[:], protoTypeInfo, uint64(len(req))); err != nil {
		return nil, err
	}
	if _, err := conn.Write(header[:]); err != nil {
		return nil, fmt.Errorf("core: info request: write header: %w", err)
	}
	if len(req) > 0 {
		if _, err := conn.Write([]byte(req)); err != nil {
			return nil, fmt.Errorf("core: info request: write body: %w", err)
		}
	}

	var replyHeader [8]byte
	if _, err := io.ReadFull(conn, replyHeader[:]); err != nil {
		return nil, fmt.Errorf("core: info request: read header: %w", err)
	}
	_, msgType, payloadLen := decodeProtoHeader(replyHeader)
	if msgType != protoTypeInfo {
		return nil, fmt.Errorf("core: info request: unexpected message type %d", msgType)
	}
	body := make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("core: info request: read body: %w", err)
	}

	return parseInfoReply(body), nil
}

// parseInfoReply splits the info-protocol reply into a name->value map.
// Lines are name\tvalue separated by \n; a bare name with no tab maps to
// an empty value.
func parseInfoReply(body []byte) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '\t'); idx >= 0 {
			result[line[:idx]] = line[idx+1:]
		} else {
			result[line] = ""
		}
	}
	return result
}

// parsePeersReply parses the "peers-clear-std" / "peers-tls-std" value
// format: "<generation>,<default-port>,[[node-id,rack,[host:port,...]],...]"
// into a flat list of peer descriptors (§4.5).
type peerDescriptor struct {
	NodeID      string
	Rack        string
	Addresses   []string
}

func parsePeersReply(value string) (generation int, defaultPort int, peers []peerDescriptor, err error) {
	parts := splitTopLevel(value, ',', 3)
	if len(parts) < 3 {
		return 0, 0, nil, fmt.Errorf("core: info: malformed peers reply %q", value)
	}
	if _, err = fmt.Sscanf(parts[0], "%d", &generation); err != nil {
		return 0, 0, nil, fmt.Errorf("core: info: peers generation: %w", err)
	}
	if _, err = fmt.Sscanf(parts[1], "%d", &defaultPort); err != nil {
		return 0, 0, nil, fmt.Errorf("core: info: peers default port: %w", err)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(parts[2], "["), "]")
	for _, entry := range splitBracketed(body) {
		fields := splitBracketed(strings.TrimSuffix(strings.TrimPrefix(entry, "["), "]"))
		if len(fields) < 3 {
			continue
		}
		addrList := strings.TrimSuffix(strings.TrimPrefix(fields[2], "["), "]")
		var addrs []string
		if addrList != "" {
			addrs = strings.Split(addrList, ",")
		}
		peers = append(peers, peerDescriptor{NodeID: fields[0], Rack: fields[1], Addresses: addrs})
	}
	return generation, defaultPort, peers, nil
}

// splitTopLevel splits s on sep, but only outside of [...] nesting, up to
// maxParts results (the final part keeps any remaining separators).
func splitTopLevel(s string, sep byte, maxParts int) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s) && len(parts) < maxParts-1; i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// splitBracketed splits a comma-joined list of possibly-nested [...] groups
// at the top level only.
func splitBracketed(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
