// Package example provides reference platforms exercising both shapes
// of the Plugin Manager's type-inference rule: a single-device
// AccessoryPlatform (this file) and a multi-device DynamicPlatform
// (sensors.go). Both register themselves from init(), following the
// built-in-plugin registration convention in
// api/internal/plugins/base_plugin.go's RegisterBuiltinPlugin.
package example

import (
	"context"

	"github.com/matterbridge-core/bridge/internal/pluginmgr"
)

func init() {
	pluginmgr.Register("example-light", func() pluginmgr.Handler { return &LightPlatform{} })
}

// LightPlatform bridges a single on/off light. It declares itself an
// AccessoryPlatform by registering exactly one, uncomposed device.
type LightPlatform struct {
	pluginmgr.Base
	storageKey string
}

func (p *LightPlatform) OnStart(ctx context.Context, pctx *pluginmgr.Context) error {
	p.storageKey = "light-1"
	if err := pctx.RegisterDevice(p.storageKey, false); err != nil {
		return err
	}
	return pctx.SetAttribute(p.storageKey, "OnOff", "onOff", false)
}
