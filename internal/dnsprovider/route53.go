package dnsprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	r53 "github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/google/uuid"
)

// route53API is the subset of the Route 53 client the provider calls.
type route53API interface {
	CreateHostedZone(ctx context.Context, in *r53.CreateHostedZoneInput, optFns ...func(*r53.Options)) (*r53.CreateHostedZoneOutput, error)
	ChangeResourceRecordSets(ctx context.Context, in *r53.ChangeResourceRecordSetsInput, optFns ...func(*r53.Options)) (*r53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, in *r53.ListResourceRecordSetsInput, optFns ...func(*r53.Options)) (*r53.ListResourceRecordSetsOutput, error)
	DeleteHostedZone(ctx context.Context, in *r53.DeleteHostedZoneInput, optFns ...func(*r53.Options)) (*r53.DeleteHostedZoneOutput, error)
}

// Route53 manages public hosted zones in AWS Route 53.
type Route53 struct {
	client route53API
}

// NewRoute53 loads the default AWS credential chain for region.
func NewRoute53(ctx context.Context, region string) (*Route53, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Route53{client: r53.NewFromConfig(cfg)}, nil
}

// Name implements Provider.
func (p *Route53) Name() string { return "route53" }

// Signature implements Provider.
func (p *Route53) Signature() string { return "awsdns" }

// CreateZone creates a hosted zone and upserts an apex A record pointing at ip.
func (p *Route53) CreateZone(ctx context.Context, domain, ip string) (Zone, error) {
	out, err := p.client.CreateHostedZone(ctx, &r53.CreateHostedZoneInput{
		Name:            aws.String(domain),
		CallerReference: aws.String(uuid.NewString()),
		HostedZoneConfig: &r53types.HostedZoneConfig{
			Comment: aws.String("tenant custom domain"),
		},
	})
	if err != nil {
		var exists *r53types.HostedZoneAlreadyExists
		if errors.As(err, &exists) {
			err = fmt.Errorf("%w: %v", ErrZoneExists, err)
		}
		return Zone{}, &Error{Provider: p.Name(), Op: "create_zone", Err: err}
	}
	if out.HostedZone == nil || out.HostedZone.Id == nil {
		return Zone{}, &Error{Provider: p.Name(), Op: "create_zone", Err: errors.New("response missing hosted zone id")}
	}

	zone := Zone{Domain: domain, ProviderID: aws.ToString(out.HostedZone.Id)}
	if out.DelegationSet != nil {
		for _, ns := range out.DelegationSet.NameServers {
			zone.Nameservers = append(zone.Nameservers, strings.TrimSuffix(ns, "."))
		}
	}

	if err := p.AddRecord(ctx, zone, Record{Type: "A", Name: "@", Data: ip, TTL: 300}); err != nil {
		return zone, err
	}
	return zone, nil
}

// AddRecord upserts a record set holding a single value.
func (p *Route53) AddRecord(ctx context.Context, zone Zone, record Record) error {
	name := zone.Domain
	if record.Name != "" && record.Name != "@" {
		name = record.Name + "." + zone.Domain
	}
	change := r53types.Change{
		Action: r53types.ChangeActionUpsert,
		ResourceRecordSet: &r53types.ResourceRecordSet{
			Name: aws.String(name),
			Type: r53types.RRType(strings.ToUpper(record.Type)),
			TTL:  aws.Int64(int64(record.TTL)),
			ResourceRecords: []r53types.ResourceRecord{
				{Value: aws.String(route53Value(record))},
			},
		},
	}
	_, err := p.client.ChangeResourceRecordSets(ctx, &r53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone.ProviderID),
		ChangeBatch:  &r53types.ChangeBatch{Changes: []r53types.Change{change}},
	})
	if err != nil {
		return &Error{Provider: p.Name(), Op: "add_record", Err: err}
	}
	return nil
}

// route53Value renders record data the way Route 53 expects it in a record set.
func route53Value(record Record) string {
	switch strings.ToUpper(record.Type) {
	case "MX":
		return fmt.Sprintf("%d %s", record.Priority, record.Data)
	case "TXT":
		if strings.HasPrefix(record.Data, `"`) {
			return record.Data
		}
		return `"` + strings.ReplaceAll(record.Data, `"`, `\"`) + `"`
	}
	return record.Data
}

// DeleteZone removes every record Route 53 did not create itself, then the zone.
func (p *Route53) DeleteZone(ctx context.Context, zone Zone) error {
	listed, err := p.client.ListResourceRecordSets(ctx, &r53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(zone.ProviderID),
	})
	if err != nil {
		return &Error{Provider: p.Name(), Op: "delete_zone", Err: err}
	}

	apex := zone.Domain + "."
	changes := make([]r53types.Change, 0, len(listed.ResourceRecordSets))
	for _, set := range listed.ResourceRecordSets {
		if aws.ToString(set.Name) == apex && (set.Type == r53types.RRTypeNs || set.Type == r53types.RRTypeSoa) {
			continue
		}
		changes = append(changes, r53types.Change{Action: r53types.ChangeActionDelete, ResourceRecordSet: &set})
	}
	if len(changes) > 0 {
		if _, err := p.client.ChangeResourceRecordSets(ctx, &r53.ChangeResourceRecordSetsInput{
			HostedZoneId: aws.String(zone.ProviderID),
			ChangeBatch:  &r53types.ChangeBatch{Changes: changes},
		}); err != nil {
			return &Error{Provider: p.Name(), Op: "delete_zone", Err: err}
		}
	}

	if _, err := p.client.DeleteHostedZone(ctx, &r53.DeleteHostedZoneInput{Id: aws.String(zone.ProviderID)}); err != nil {
		return &Error{Provider: p.Name(), Op: "delete_zone", Err: err}
	}
	return nil
}
