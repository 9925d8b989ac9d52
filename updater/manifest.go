package updater

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const manifestComment = "untrusted comment: Peerio Updater manifest"

var optionalSinceRe = regexp.MustCompile(`^optional since (.+)$`)

// headerKeys lists the well-known top-level manifest keys in the order they
// are emitted by Serialize.
var headerKeys = []string{"version", "urgency", "date", "changelog"}

// platformFile is the parsed `<platform>-file`/`-size`/`-sha512` triple for
// one platform entry.
type platformFile struct {
	File   string
	Size   int64
	Sha512 string
}

// Manifest is an immutable, signed description of one release: its version,
// urgency, and per-platform download artifacts. The duck-typed key→value
// wire format is preserved through Data(), but internally the well-known
// header fields and platform triples are typed.
type Manifest struct {
	version   *semver.Version
	versionRaw string
	urgency   string
	date      string
	changelog string
	platforms map[string]platformFile
	extra     map[string]string // recognized-shape keys this parser doesn't model, preserved for round-trip fidelity
}

// LoadFromString verifies the signed manifest text against publicKeys and
// parses its key→value body.
func LoadFromString(publicKeys []string, text string) (*Manifest, error) {
	const op = "LoadFromString"

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return nil, newError(KindBadManifest, op, nil)
	}

	sig := lines[1]
	body := strings.Join(lines[2:], "\n")

	if err := NewSigner().Verify(publicKeys, sig, body); err != nil {
		return nil, err
	}

	data := make(map[string]string)
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			data[line] = ""
			continue
		}
		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		data[key] = value
	}

	return manifestFromData(data)
}

// ParseUnsigned parses a plain key:value manifest body with no signature
// wrapper, for authoring tools that build a manifest before it is signed.
func ParseUnsigned(text string) (*Manifest, error) {
	data := make(map[string]string)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			data[line] = ""
			continue
		}
		data[line[:idx]] = strings.TrimSpace(line[idx+1:])
	}
	return manifestFromData(data)
}

func manifestFromData(data map[string]string) (*Manifest, error) {
	const op = "LoadFromString"

	versionRaw, ok := data["version"]
	if !ok {
		return nil, newError(KindInvalidVersion, op, nil)
	}
	v, err := semver.NewVersion(versionRaw)
	if err != nil {
		return nil, newError(KindInvalidVersion, op, err)
	}

	m := &Manifest{
		version:    v,
		versionRaw: versionRaw,
		urgency:    data["urgency"],
		date:       data["date"],
		changelog:  data["changelog"],
		platforms:  map[string]platformFile{},
		extra:      map[string]string{},
	}

	platformKeys := map[string]*platformFile{}
	getEntry := func(platform string) *platformFile {
		if e, ok := platformKeys[platform]; ok {
			return e
		}
		e := &platformFile{}
		platformKeys[platform] = e
		return e
	}

	for k, v := range data {
		switch k {
		case "version", "urgency", "date", "changelog":
			continue
		}
		switch {
		case strings.HasSuffix(k, "-file"):
			getEntry(strings.TrimSuffix(k, "-file")).File = v
		case strings.HasSuffix(k, "-size"):
			sz, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, newError(KindBadManifest, op, err)
			}
			getEntry(strings.TrimSuffix(k, "-size")).Size = sz
		case strings.HasSuffix(k, "-sha512"):
			getEntry(strings.TrimSuffix(k, "-sha512")).Sha512 = v
		default:
			m.extra[k] = v
		}
	}

	for platform, e := range platformKeys {
		if (e.File != "") != (e.Size != 0) || (e.File != "") != (e.Sha512 != "") {
			return nil, newError(KindBadManifest, op, nil)
		}
		m.platforms[platform] = *e
	}

	return m, nil
}

// Data reconstructs the flat key→value wire representation of the manifest.
// loadFromString(serialize(m)) must recover this map exactly.
func (m *Manifest) Data() map[string]string {
	data := map[string]string{"version": m.versionRaw}
	if m.urgency != "" {
		data["urgency"] = m.urgency
	}
	if m.date != "" {
		data["date"] = m.date
	}
	if m.changelog != "" {
		data["changelog"] = m.changelog
	}
	for platform, e := range m.platforms {
		if e.File != "" {
			data[platform+"-file"] = e.File
		}
		if e.Size != 0 {
			data[platform+"-size"] = strconv.FormatInt(e.Size, 10)
		}
		if e.Sha512 != "" {
			data[platform+"-sha512"] = e.Sha512
		}
	}
	for k, v := range m.extra {
		data[k] = v
	}
	return data
}

// Version returns the manifest's semver version string.
func (m *Manifest) Version() string { return m.versionRaw }

// Urgency returns the raw urgency value, defaulting to "mandatory".
func (m *Manifest) Urgency() string {
	if m.urgency == "" {
		return "mandatory"
	}
	return m.urgency
}

// OptionalSince returns the version captured by an "optional since <semver>"
// urgency value, or nil if urgency is "mandatory" or the capture isn't a
// valid semver.
func (m *Manifest) OptionalSince() *semver.Version {
	match := optionalSinceRe.FindStringSubmatch(m.Urgency())
	if match == nil {
		return nil
	}
	v, err := semver.NewVersion(match[1])
	if err != nil {
		return nil
	}
	return v
}

// IsMandatorySince reports whether the update must be treated as mandatory
// given the host's current version.
func (m *Manifest) IsMandatorySince(current string) bool {
	if m.Urgency() == "mandatory" {
		return true
	}
	since := m.OptionalSince()
	if since == nil {
		return true
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	return cur.LessThan(since)
}

// IsNewerVersionThan reports whether this manifest's version is strictly
// greater than current.
func (m *Manifest) IsNewerVersionThan(current string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	return m.version.GreaterThan(cur)
}

// GetFile returns the `<platform>-file` entry, and whether it was present.
func (m *Manifest) GetFile(platform string) (string, bool) {
	e, ok := m.platforms[platform]
	return e.File, ok && e.File != ""
}

// GetSize returns the `<platform>-size` entry, and whether it was present.
func (m *Manifest) GetSize(platform string) (int64, bool) {
	e, ok := m.platforms[platform]
	return e.Size, ok && e.Size != 0
}

// GetSha512 returns the `<platform>-sha512` entry, and whether it was
// present.
func (m *Manifest) GetSha512(platform string) (string, bool) {
	e, ok := m.platforms[platform]
	return e.Sha512, ok && e.Sha512 != ""
}

// HasCompletePlatform reports whether platform has all of file, size and
// sha512 set — the invariant required of any present platform entry.
func (m *Manifest) HasCompletePlatform(platform string) bool {
	e, ok := m.platforms[platform]
	return ok && e.File != "" && e.Size != 0 && e.Sha512 != ""
}

// Serialize signs the manifest body with secretKeyB64 and emits the full
// signed wire text.
func Serialize(secretKeyB64 string, m *Manifest) (string, error) {
	data := m.Data()

	bodyLines := []string{""}
	for _, k := range headerKeys {
		if v, ok := data[k]; ok {
			bodyLines = append(bodyLines, k+": "+v)
			delete(data, k)
		}
	}

	remaining := make([]string, 0, len(data))
	for k := range data {
		remaining = append(remaining, k)
	}
	sort.Strings(remaining)

	prevPrefix := ""
	first := true
	for _, k := range remaining {
		prefix := k
		if idx := strings.Index(k, "-"); idx >= 0 {
			prefix = k[:idx]
		}
		if !first && prefix != prevPrefix {
			bodyLines = append(bodyLines, "")
		}
		bodyLines = append(bodyLines, k+": "+data[k])
		prevPrefix = prefix
		first = false
	}
	bodyLines = append(bodyLines, "")

	body := strings.Join(bodyLines, "\n")

	sig, err := NewSigner().Sign(secretKeyB64, body)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{manifestComment, sig, body}, "\n"), nil
}
