package registry

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Registration describes a service to the registry. It is sent once per
// registration and never mutated afterwards.
type Registration struct {
	ServiceName      ServiceName
	ServiceURL       string
	RequiredServices []ServiceName
	HeartbeatURL     string // where the registry can probe the service directly
	Metadata         map[string]string
}

// ServiceName is the logical name a service registers under, e.g. "billing".
type ServiceName string

// wire keys
const (
	keyServiceName      = "service_name"
	keyServiceURL       = "service_url"
	keyRequiredServices = "required_services"
	keyHeartbeatURL     = "heartbeat_url"
	keyMetadata         = "metadata"
)

func (r Registration) Validate() error {
	if r.ServiceName == "" {
		return errors.New("service name is required")
	}
	if r.ServiceURL == "" {
		return errors.New("service url is required")
	}
	if _, err := url.Parse(r.ServiceURL); err != nil {
		return fmt.Errorf("service url: %w", err)
	}
	if r.HeartbeatURL != "" {
		if _, err := url.Parse(r.HeartbeatURL); err != nil {
			return fmt.Errorf("heartbeat url: %w", err)
		}
	}
	return nil
}

// ToProto encodes the registration as a RegisterRequest.
func (r Registration) ToProto() (*howlpb.RegisterRequest, error) {
	required := make([]interface{}, 0, len(r.RequiredServices))
	for _, s := range r.RequiredServices {
		required = append(required, string(s))
	}
	meta := make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	fields := map[string]interface{}{
		keyServiceName:      string(r.ServiceName),
		keyServiceURL:       r.ServiceURL,
		keyRequiredServices: required,
		keyMetadata:         meta,
	}
	if r.HeartbeatURL != "" {
		fields[keyHeartbeatURL] = r.HeartbeatURL
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	return s, nil
}

// FromProto decodes a RegisterRequest. Unknown keys are ignored.
func FromProto(req *howlpb.RegisterRequest) (Registration, error) {
	if req == nil {
		return Registration{}, errors.New("registration is nil")
	}
	var r Registration
	f := req.GetFields()
	r.ServiceName = ServiceName(f[keyServiceName].GetStringValue())
	r.ServiceURL = f[keyServiceURL].GetStringValue()
	r.HeartbeatURL = f[keyHeartbeatURL].GetStringValue()
	for _, v := range f[keyRequiredServices].GetListValue().GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return Registration{}, fmt.Errorf("%s: expected strings", keyRequiredServices)
		}
		r.RequiredServices = append(r.RequiredServices, ServiceName(sv.StringValue))
	}
	if m := f[keyMetadata].GetStructValue().GetFields(); len(m) > 0 {
		r.Metadata = make(map[string]string, len(m))
		for k, v := range m {
			r.Metadata[k] = v.GetStringValue()
		}
	}
	if err := r.Validate(); err != nil {
		return Registration{}, err
	}
	return r, nil
}
