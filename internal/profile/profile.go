// Package profile writes Windows WLAN connection profiles for candidate networks.
package profile

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

const profileNamespace = "http://www.microsoft.com/networking/WLAN/profile/v1"

// WLANProfile mirrors the subset of the netsh WLAN profile schema used for
// WPA2-Personal networks.
type WLANProfile struct {
	XMLName        xml.Name   `xml:"WLANProfile"`
	Namespace      string     `xml:"xmlns,attr"`
	Name           string     `xml:"name"`
	SSIDConfig     ssidConfig `xml:"SSIDConfig"`
	ConnectionType string     `xml:"connectionType"`
	ConnectionMode string     `xml:"connectionMode"`
	MSM            msm        `xml:"MSM"`
}

type ssidConfig struct {
	SSID struct {
		Name string `xml:"name"`
	} `xml:"SSID"`
}

type msm struct {
	Security struct {
		AuthEncryption struct {
			Authentication string `xml:"authentication"`
			Encryption     string `xml:"encryption"`
			UseOneX        bool   `xml:"useOneX"`
		} `xml:"authEncryption"`
		SharedKey struct {
			KeyType     string `xml:"keyType"`
			Protected   bool   `xml:"protected"`
			KeyMaterial string `xml:"keyMaterial"`
		} `xml:"sharedKey"`
	} `xml:"security"`
}

// New builds a WPA2PSK/AES passphrase profile that connects automatically.
func New(ssid, password string) WLANProfile {
	p := WLANProfile{
		Namespace:      profileNamespace,
		Name:           ssid,
		ConnectionType: "ESS",
		ConnectionMode: "auto",
	}
	p.SSIDConfig.SSID.Name = ssid
	p.MSM.Security.AuthEncryption.Authentication = "WPA2PSK"
	p.MSM.Security.AuthEncryption.Encryption = "AES"
	p.MSM.Security.SharedKey.KeyType = "passPhrase"
	p.MSM.Security.SharedKey.KeyMaterial = password
	return p
}

// Path returns the conventional location of the profile for ssid inside dir.
func Path(dir, ssid string) string {
	return filepath.Join(dir, ssid+".xml")
}

// Generate writes the profile for (ssid, password) to path, creating parent
// directories as needed.
func Generate(ssid, password, path string) error {
	data, err := xml.MarshalIndent(New(ssid, password), "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling profile for %s: %w", ssid, err)
	}
	data = append([]byte(`<?xml version="1.0"?>`+"\n"), data...)
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	// The profile carries the passphrase in clear text.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing profile %s: %w", path, err)
	}
	return nil
}
