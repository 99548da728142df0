// Package metadata persists domain attributes in libvirt's per-domain
// metadata store. Each attribute is kept as its own metadata element keyed by
// a dedicated namespace URI, so the defined-domain record itself is the
// durable state and no external database is needed.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/hypervisor"
)

// NamespacePrefix is the XML namespace prefix used for arclight metadata
// elements inside the domain document.
const NamespacePrefix = "arc"

// Setter is the write half of the metadata capability surface.
// In production both halves are satisfied by *libvirt.Libvirt directly.
type Setter interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
}

// Getter is the read half of the metadata capability surface.
type Getter interface {
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// Client combines both halves.
type Client interface {
	Setter
	Getter
}

// element is the schema for one stored attribute: <key name="value"/>.
type element struct {
	XMLName xml.Name
	Value   string `xml:"name,attr"`
}

// Set writes one key/value pair into the domain's persisted metadata,
// replacing any previous value for that key.
func Set(c Setter, dom libvirt.Domain, key, value string) error {
	data, err := xml.Marshal(element{XMLName: xml.Name{Local: key}, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata element %q: %w", key, err)
	}

	err = c.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(data)},
		libvirt.OptString{NamespacePrefix},
		libvirt.OptString{key},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set domain metadata %q: %w", key, err)
	}

	return nil
}

// Get reads one key from the domain's persisted metadata. A missing key is
// not an error: it returns the empty string. Any other libvirt failure is
// returned unmodified.
func Get(c Getter, dom libvirt.Domain, key string) (string, error) {
	xmlStr, err := c.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{key},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		if hypervisor.HasErrorCode(err, libvirt.ErrNoDomainMetadata) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get domain metadata %q: %w", key, err)
	}

	var elt element
	if err := xml.Unmarshal([]byte(xmlStr), &elt); err != nil {
		return "", fmt.Errorf("failed to parse metadata element %q: %w", key, err)
	}

	return elt.Value, nil
}
