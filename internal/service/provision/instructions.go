package provision

import (
	"fmt"
	"time"
)

// Instructions are the registrar steps shown to the tenant after provisioning.
type Instructions struct {
	Title            string   `json:"title"`
	Steps            []string `json:"steps"`
	NameserversList  []string `json:"nameservers_list,omitempty"`
	Note             string   `json:"note"`
	AutoVerification string   `json:"auto_verification,omitempty"`
}

// DNSRecord is a record the tenant must create at their own DNS host on the manual path.
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func nameserverInstructions(nameservers []string, interval time.Duration) Instructions {
	return Instructions{
		Title: "Point your domain at our nameservers",
		Steps: []string{
			"1. Sign in to the control panel of your domain registrar",
			"2. Open the DNS or nameserver settings for the domain",
			"3. Switch to custom nameservers",
			"4. Replace the existing entries with the nameservers below",
		},
		NameserversList:  append([]string(nil), nameservers...),
		Note:             "Nameserver changes take between 4 and 48 hours to propagate. The domain is activated automatically once they are visible.",
		AutoVerification: fmt.Sprintf("We check the delegation automatically every %s.", humanInterval(interval)),
	}
}

func manualRecords(baseDomain, ingressIP string) []DNSRecord {
	return []DNSRecord{
		{Type: "CNAME", Name: "www", Value: baseDomain},
		{Type: "A", Name: "@", Value: ingressIP},
	}
}

func manualInstructions(domainName string, records []DNSRecord) Instructions {
	steps := []string{"1. Sign in to the DNS management panel for " + domainName}
	for i, rec := range records {
		steps = append(steps, fmt.Sprintf("%d. Add a %s record named %q with value %s", i+2, rec.Type, rec.Name, rec.Value))
	}
	steps = append(steps, fmt.Sprintf("%d. Run the domain check once the records are saved", len(records)+2))
	return Instructions{
		Title: "Configure DNS records for " + domainName,
		Steps: steps,
		Note:  "DNS changes can take up to 48 hours to propagate.",
	}
}

func humanInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "few minutes"
	case d%time.Hour == 0:
		if d == time.Hour {
			return "hour"
		}
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		if d == time.Minute {
			return "minute"
		}
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
