package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/converge-io/converge/internal/provider"
)

// putParameter backs both create and update; PutParameter with Overwrite
// is the same call either way.
func (p *Provider) putParameter(ctx context.Context, name string, attrs map[string]any) error {
	value := strAttr(attrs, "value")
	paramType := strAttr(attrs, "type")
	if paramType == "" {
		paramType = string(types.ParameterTypeString)
	}

	input := &ssm.PutParameterInput{
		Name:      &name,
		Value:     &value,
		Type:      types.ParameterType(paramType),
		Overwrite: boolPtr(true),
	}
	if desc := strAttr(attrs, "description"); desc != "" {
		input.Description = &desc
	}
	if keyID := strAttr(attrs, "key_id"); keyID != "" {
		input.KeyId = &keyID
	}
	if tier := strAttr(attrs, "tier"); tier != "" {
		input.Tier = types.ParameterTier(tier)
	}

	if _, err := p.ssmClient.PutParameter(ctx, input); err != nil {
		return wrapErr("failed to put SSM parameter", err)
	}
	return nil
}

func (p *Provider) createParameter(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_ssm_parameter: missing required attribute %q", "name")
	}
	if err := p.putParameter(ctx, name, attrs); err != nil {
		return "", nil, err
	}
	out, err := p.readParameter(ctx, name)
	return name, out, err
}

func (p *Provider) readParameter(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &id,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		if errCode(err, "ParameterNotFound") {
			return nil, &provider.NotFoundError{Type: typeParameter, ID: id}
		}
		return nil, wrapErr("failed to get SSM parameter", err)
	}

	param := resp.Parameter
	out := map[string]any{
		"name":    *param.Name,
		"type":    string(param.Type),
		"value":   *param.Value,
		"version": int(param.Version),
	}
	if param.ARN != nil {
		out["arn"] = *param.ARN
	}
	return out, nil
}

func (p *Provider) updateParameter(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if err := p.putParameter(ctx, id, attrs); err != nil {
		return nil, err
	}
	return p.readParameter(ctx, id)
}

func (p *Provider) deleteParameter(ctx context.Context, id string) error {
	_, err := p.ssmClient.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: &id,
	})
	if err != nil && !errCode(err, "ParameterNotFound") {
		return wrapErr("failed to delete SSM parameter", err)
	}
	return nil
}
