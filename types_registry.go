package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedEntry = errors.New("malformed registry entry")

// RegistryEntry is the mirrored document for one package. Top-level fields are
// kept as raw JSON so anything we do not interpret passes through untouched.
type RegistryEntry map[string]json.RawMessage

const (
	ENTRY_FIELD_MODIFIED = "modified"
	ENTRY_FIELD_VERSIONS = "versions"
	VERSION_FIELD_DIST   = "dist"
	DIST_FIELD_TARBALL   = "tarball"
)

func ParseRegistryEntry(data []byte) (RegistryEntry, error) {
	var entry RegistryEntry
	err := json.Unmarshal(data, &entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformedEntry)
	}
	return entry, nil
}

func (e RegistryEntry) Serialize() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("error serializing registry entry: %w", err)
	}
	return string(data), nil
}

func (e RegistryEntry) Modified() (time.Time, error) {
	raw, ok := e[ENTRY_FIELD_MODIFIED]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no %s field", ErrMalformedEntry, ENTRY_FIELD_MODIFIED)
	}
	var modified string
	err := json.Unmarshal(raw, &modified)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s is not a string: %w", ErrMalformedEntry, ENTRY_FIELD_MODIFIED, err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, modified)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s is not a timestamp: %w", ErrMalformedEntry, ENTRY_FIELD_MODIFIED, err)
	}
	return parsed, nil
}

// Versions returns the version map; an absent or null field is an empty map.
func (e RegistryEntry) Versions() (map[string]json.RawMessage, error) {
	versions := make(map[string]json.RawMessage)
	raw, ok := e[ENTRY_FIELD_VERSIONS]
	if !ok || string(raw) == "null" {
		return versions, nil
	}
	err := json.Unmarshal(raw, &versions)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not an object: %w", ErrMalformedEntry, ENTRY_FIELD_VERSIONS, err)
	}
	if versions == nil {
		versions = make(map[string]json.RawMessage)
	}
	return versions, nil
}

func (e RegistryEntry) SetVersions(versions map[string]json.RawMessage) error {
	raw, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("error serializing versions: %w", err)
	}
	e[ENTRY_FIELD_VERSIONS] = raw
	return nil
}

// decodeVersionMetadata splits a version document and its dist object into raw fields.
func decodeVersionMetadata(version string, raw json.RawMessage) (map[string]json.RawMessage, map[string]json.RawMessage, error) {
	var metadata map[string]json.RawMessage
	err := json.Unmarshal(raw, &metadata)
	if err != nil || metadata == nil {
		return nil, nil, fmt.Errorf("%w: version %s is not an object", ErrMalformedEntry, version)
	}
	var dist map[string]json.RawMessage
	if rawDist, ok := metadata[VERSION_FIELD_DIST]; ok {
		err = json.Unmarshal(rawDist, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: dist of version %s is not an object", ErrMalformedEntry, version)
		}
	}
	if dist == nil {
		dist = make(map[string]json.RawMessage)
	}
	return metadata, dist, nil
}

func hasTarball(version string, raw json.RawMessage) (bool, error) {
	_, dist, err := decodeVersionMetadata(version, raw)
	if err != nil {
		return false, err
	}
	_, ok := dist[DIST_FIELD_TARBALL]
	return ok, nil
}

// withTarball returns the version document with dist.tarball set, every other field as it was.
func withTarball(version string, raw json.RawMessage, tarball string) (json.RawMessage, error) {
	metadata, dist, err := decodeVersionMetadata(version, raw)
	if err != nil {
		return nil, err
	}
	dist[DIST_FIELD_TARBALL], err = json.Marshal(tarball)
	if err != nil {
		return nil, err
	}
	metadata[VERSION_FIELD_DIST], err = json.Marshal(dist)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadata)
}
