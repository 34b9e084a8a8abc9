package processor

import "github.com/dmitriimaksimovdevelop/coolerd/internal/model"

// IdentityPreProcessor copies the latest observed temperature from the
// configured temp source unchanged. It carries no per-profile state.
type IdentityPreProcessor struct {
	registry *model.Registry
	log      Logger
}

func NewIdentityPreProcessor(registry *model.Registry, log Logger) *IdentityPreProcessor {
	if log == nil {
		log = NopLogger
	}
	return &IdentityPreProcessor{registry: registry, log: log}
}

func (p *IdentityPreProcessor) IsApplicable(data SpeedProfileData) bool {
	return data.Profile.Function.Kind == model.FunctionIdentity && data.Temp == nil
}

func (p *IdentityPreProcessor) InitState(string)  {}
func (p *IdentityPreProcessor) ClearState(string) {}

func (p *IdentityPreProcessor) Process(data SpeedProfileData) SpeedProfileData {
	temp, ok := p.registry.Temp(data.Profile.TempSource)
	if !ok {
		p.log.Errorf("identity: temp source %s/%s missing, emitting emergency temp",
			data.Profile.TempSource.DeviceUID, data.Profile.TempSource.TempName)
		temp = model.EmergencyMissingTemp
	}
	data.Temp = floatPtr(temp)
	return data
}
