package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// RenderHCL writes cfg as an HCL document, every block present.
func RenderHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("listen", cty.StringVal(cfg.Listen))
	body.SetAttributeValue("log_level", cty.StringVal(cfg.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(cfg.LogJSON))

	if k := cfg.Kernel; k != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("kernel", nil).Body()
		b.SetAttributeValue("backend", cty.StringVal(k.Backend))
		b.SetAttributeValue("nft_path", cty.StringVal(k.NFTPath))
		if k.NetNS != "" {
			b.SetAttributeValue("netns", cty.StringVal(k.NetNS))
		}
		b.SetAttributeValue("timeout", cty.StringVal(k.Timeout))
		b.SetAttributeValue("fetch_attempts", cty.NumberIntVal(int64(k.FetchAttempts)))
	}

	if m := cfg.Mutation; m != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("mutation", nil).Body()
		b.SetAttributeValue("edit_strategy", cty.StringVal(m.EditStrategy))
	}

	if d := cfg.Defaults; d != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("defaults", nil).Body()
		b.SetAttributeValue("families", stringList(d.Families))
		b.SetAttributeValue("tables", stringList(d.Tables))
		b.SetAttributeValue("chains", stringList(d.Chains))
	}

	if a := cfg.Audit; a != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("audit", nil).Body()
		b.SetAttributeValue("path", cty.StringVal(a.Path))
		b.SetAttributeValue("retention_days", cty.NumberIntVal(int64(a.RetentionDays)))
	}

	if api := cfg.API; api != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("api", nil).Body()
		b.SetAttributeValue("read_timeout", cty.StringVal(api.ReadTimeout))
		b.SetAttributeValue("write_timeout", cty.StringVal(api.WriteTimeout))
		b.SetAttributeValue("idle_timeout", cty.StringVal(api.IdleTimeout))
		b.SetAttributeValue("max_body_bytes", cty.NumberIntVal(api.MaxBodyBytes))
		b.SetAttributeValue("mutations_per_minute", cty.NumberIntVal(int64(api.MutationsPerMinute)))
		b.SetAttributeValue("language", cty.StringVal(api.Language))
		if len(api.TrustedProxies) > 0 {
			b.SetAttributeValue("trusted_proxies", stringList(api.TrustedProxies))
		}
	}

	return hclwrite.Format(f.Bytes())
}

func stringList(vals []string) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	out := make([]cty.Value, len(vals))
	for i, s := range vals {
		out[i] = cty.StringVal(s)
	}
	return cty.ListVal(out)
}
