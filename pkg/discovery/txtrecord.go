package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EncodeEntityTXT builds the TXT records for info.
func EncodeEntityTXT(info *EntityInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyName:      info.Name,
		TXTKeyNumberKey: strconv.FormatUint(uint64(info.NumberKey), 10),
		TXTKeyProtocol:  "TCP",
	}
	if info.AuthAddress != "" {
		txt[TXTKeyAuth] = info.AuthAddress
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeEntityTXT parses TXT records into an EntityInfo. Instance and Port
// are not part of the TXT data and are left zero.
func DecodeEntityTXT(txt TXTRecordMap) (*EntityInfo, error) {
	name, ok := txt[TXTKeyName]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}

	info := &EntityInfo{
		Name:        name,
		AuthAddress: txt[TXTKeyAuth],
		Version:     txt[TXTKeyVersion],
	}

	if nk, ok := txt[TXTKeyNumberKey]; ok {
		n, err := strconv.ParseUint(nk, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyNumberKey, nk)
		}
		info.NumberKey = uint32(n)
	}

	if proto, ok := txt[TXTKeyProtocol]; ok && !strings.EqualFold(proto, "TCP") {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyProtocol, proto)
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// ValidateTXT checks the encoded size of txt.
func ValidateTXT(txt TXTRecordMap) error {
	size := 0
	for _, s := range TXTRecordsToStrings(txt) {
		size += 1 + len(s)
	}
	if size > MaxTXTRecordSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTXTRecordTooLarge, size, MaxTXTRecordSize)
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
