package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type ClientSettings struct {
	APIKey         string         `yaml:"api_key,omitempty"`
	BaseURL        string         `yaml:"base_url,omitempty"`
	Organization   *string        `yaml:"organization,omitempty"`
	UserAgent      *string        `yaml:"user_agent,omitempty"`
	Timeout        *time.Duration `yaml:"-"`
	TimeoutSeconds *int           `yaml:"timeout,omitempty"`
	HTTPClient     *http.Client   `yaml:"-" json:"-"`
}

// UnmarshalYAML reads the timeout as a number of seconds.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	if err := value.Decode((*Alias)(cs)); err != nil {
		return err
	}
	if cs.TimeoutSeconds != nil {
		t := time.Duration(*cs.TimeoutSeconds) * time.Second
		cs.Timeout = &t
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

func (cs *ClientSettings) SetTimeout(d time.Duration) {
	seconds := int(d.Seconds())
	cs.Timeout = &d
	cs.TimeoutSeconds = &seconds
}

func NewClientSettings() *ClientSettings {
	ret := &ClientSettings{
		BaseURL: DefaultBaseURL,
	}
	ret.SetTimeout(60 * time.Second)
	return ret
}
