package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/converge-io/converge/internal/provider"
)

func (p *Provider) createRepository(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "repository_name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_ecr_repository: missing required attribute %q", "repository_name")
	}

	mutability := strAttr(attrs, "image_tag_mutability")
	if mutability == "" {
		mutability = string(types.ImageTagMutabilityMutable)
	}

	_, err := p.ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:     &name,
		ImageTagMutability: types.ImageTagMutability(mutability),
	})
	if err != nil && !errCode(err, "RepositoryAlreadyExistsException") {
		return "", nil, wrapErr("failed to create repository", err)
	}

	out, err := p.readRepository(ctx, name)
	return name, out, err
}

func (p *Provider) readRepository(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{id},
	})
	if err != nil {
		if errCode(err, "RepositoryNotFoundException") {
			return nil, &provider.NotFoundError{Type: typeRepository, ID: id}
		}
		return nil, wrapErr("failed to describe repository", err)
	}
	if len(resp.Repositories) == 0 {
		return nil, &provider.NotFoundError{Type: typeRepository, ID: id}
	}

	repo := resp.Repositories[0]
	return map[string]any{
		"repository_name":      *repo.RepositoryName,
		"arn":                  *repo.RepositoryArn,
		"repository_url":       *repo.RepositoryUri,
		"image_tag_mutability": string(repo.ImageTagMutability),
	}, nil
}

func (p *Provider) updateRepository(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if mutability := strAttr(attrs, "image_tag_mutability"); mutability != "" {
		_, err := p.ecrClient.PutImageTagMutability(ctx, &ecr.PutImageTagMutabilityInput{
			RepositoryName:     &id,
			ImageTagMutability: types.ImageTagMutability(mutability),
		})
		if err != nil {
			return nil, wrapErr("failed to update repository", err)
		}
	}
	return p.readRepository(ctx, id)
}

// Force also removes any images still in the repository.
func (p *Provider) deleteRepository(ctx context.Context, id string) error {
	_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: &id,
		Force:          true,
	})
	if err != nil && !errCode(err, "RepositoryNotFoundException") {
		return wrapErr("failed to delete repository", err)
	}
	return nil
}
