package statichosts

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// table is one immutable snapshot of the static mapping. It is built
// whole, then published; nothing mutates it afterwards.
type table struct {
	entries map[string]net.IP
}

func newTable() *table {
	return &table{entries: make(map[string]net.IP)}
}

func normalize(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

func (t *table) add(name string, ip net.IP) {
	if ip = ip.To4(); ip == nil {
		return
	}

	t.entries[normalize(name)] = ip
}

// readFile parses a hosts(5) formatted file into the snapshot. The format
// handling follows net/hosts: comments stripped, first field an address,
// remaining fields names. Non-IPv4 entries are skipped, static answers
// are A records.
func (t *table) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if i := bytes.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		f := bytes.Fields(line)
		if len(f) < 2 {
			continue
		}

		ip := net.ParseIP(string(f[0]))
		if ip == nil || ip.To4() == nil {
			continue
		}

		for i := 1; i < len(f); i++ {
			t.add(string(f[i]), ip)
		}
	}

	return scanner.Err()
}
