package discovery

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// TXTRecordMap holds the key/value pairs of a DNS-SD TXT record.
type TXTRecordMap map[string]string

// EncodeServerTXT builds the TXT record a management server publishes.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyScheme: info.Scheme, TXTKeyBootstrap: "0"}
	if info.Bootstrap {
		txt[TXTKeyBootstrap] = "1"
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeServerTXT reads a published TXT record. The scheme is required;
// a missing bootstrap flag means a management server.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	scheme, ok := txt[TXTKeyScheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyScheme)
	}
	scheme = strings.ToLower(scheme)
	if !schemes[scheme] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	info := &ServerInfo{Scheme: scheme, Version: txt[TXTKeyVersion]}
	switch bs := txt[TXTKeyBootstrap]; bs {
	case "1":
		info.Bootstrap = true
	case "", "0":
	default:
		return nil, fmt.Errorf("%w: %s=%s", ErrInvalidTXTRecord, TXTKeyBootstrap, bs)
	}
	return info, nil
}

// Strings renders the record as "key=value" strings sorted by key.
func (txt TXTRecordMap) Strings() []string {
	keys := slices.Sorted(maps.Keys(txt))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + txt[k]
	}
	return out
}

// TXTRecordsToStrings is TXTRecordMap.Strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	return txt.Strings()
}

// StringsToTXTRecords parses "key=value" strings. A bare key maps to the
// empty string and empty strings are skipped.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		if s == "" {
			continue
		}
		k, v, _ := strings.Cut(s, "=")
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks that name fits in one DNS label.
func ValidateInstanceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	case len(name) > MaxInstanceNameLen:
		return ErrInstanceNameTooLong
	}
	return nil
}
