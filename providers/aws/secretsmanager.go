package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/converge-io/converge/internal/provider"
)

// Secrets are envelopes here: the engine manages name, description and
// KMS key, never the secret value itself, so nothing sensitive lands in
// state.
func (p *Provider) createSecret(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_secretsmanager_secret: missing required attribute %q", "name")
	}

	input := &secretsmanager.CreateSecretInput{
		Name: &name,
	}
	if desc := strAttr(attrs, "description"); desc != "" {
		input.Description = &desc
	}
	if keyID := strAttr(attrs, "kms_key_id"); keyID != "" {
		input.KmsKeyId = &keyID
	}

	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		return "", nil, wrapErr("failed to create secret", err)
	}

	out, err := p.readSecret(ctx, *resp.ARN)
	return *resp.ARN, out, err
}

func (p *Provider) readSecret(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.secretsmanagerClient.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: &id,
	})
	if err != nil {
		if errCode(err, "ResourceNotFoundException") {
			return nil, &provider.NotFoundError{Type: typeSecret, ID: id}
		}
		return nil, wrapErr("failed to describe secret", err)
	}

	out := map[string]any{
		"arn":  *resp.ARN,
		"name": *resp.Name,
	}
	if resp.Description != nil && *resp.Description != "" {
		out["description"] = *resp.Description
	}
	if resp.KmsKeyId != nil && *resp.KmsKeyId != "" {
		out["kms_key_id"] = *resp.KmsKeyId
	}
	return out, nil
}

func (p *Provider) updateSecret(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	input := &secretsmanager.UpdateSecretInput{
		SecretId: &id,
	}
	changed := false
	if _, ok := attrs["description"]; ok {
		desc := strAttr(attrs, "description")
		input.Description = &desc
		changed = true
	}
	if keyID := strAttr(attrs, "kms_key_id"); keyID != "" {
		input.KmsKeyId = &keyID
		changed = true
	}
	if changed {
		if _, err := p.secretsmanagerClient.UpdateSecret(ctx, input); err != nil {
			return nil, wrapErr("failed to update secret", err)
		}
	}
	return p.readSecret(ctx, id)
}

// ForceDeleteWithoutRecovery skips the recovery window; without it the
// name stays reserved for days and recreate flows deadlock.
func (p *Provider) deleteSecret(ctx context.Context, id string) error {
	_, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &id,
		ForceDeleteWithoutRecovery: boolPtr(true),
	})
	if err != nil && !errCode(err, "ResourceNotFoundException") {
		return wrapErr("failed to delete secret", err)
	}
	return nil
}
