package bridge

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-vcard"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
)

// ExtraAvatar asks for contact photos, which are omitted by default.
const ExtraAvatar = "avatar"

type ListContactsParams struct {
	Limit           int
	Offset          int
	ExtraProperties []string
}

func (s *Service) ListContacts(ctx context.Context, p ListContactsParams) ([]model.Contact, error) {
	if err := validatePage(p.Limit, p.Offset); err != nil {
		return nil, err
	}
	recs, err := s.up.ListContacts(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, s.upstreamErr(err)
	}
	contacts := shape.Contacts(recs)
	if !slices.Contains(p.ExtraProperties, ExtraAvatar) {
		for i := range contacts {
			contacts[i].Avatar = ""
		}
	}
	return contacts, nil
}

func (s *Service) QueryContacts(ctx context.Context, addresses []string) ([]model.Contact, error) {
	addrs := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, apperr.BadRequest("at least one address is required")
	}
	recs, err := s.up.QueryContacts(ctx, addrs)
	if err != nil {
		return nil, s.upstreamErr(err)
	}
	return shape.Contacts(recs), nil
}

// ExportVCard renders the first page of the address book as vCard 4.0.
func (s *Service) ExportVCard(ctx context.Context) ([]byte, error) {
	contacts, err := s.ListContacts(ctx, ListContactsParams{Limit: MaxPageLimit})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := vcard.NewEncoder(&buf)
	for _, c := range contacts {
		if err := enc.Encode(toCard(c)); err != nil {
			return nil, apperr.Internal("failed to encode vcard", err)
		}
	}
	return buf.Bytes(), nil
}

func toCard(c model.Contact) vcard.Card {
	card := make(vcard.Card)
	if c.ID != "" {
		card.SetValue(vcard.FieldUID, c.ID)
	}
	card.SetValue(vcard.FieldFormattedName, c.DisplayName)
	card.SetName(&vcard.Name{GivenName: c.FirstName, FamilyName: c.LastName})
	if c.Nickname != "" {
		card.SetValue(vcard.FieldNickname, c.Nickname)
	}
	if c.Birthday != "" {
		card.SetValue(vcard.FieldBirthday, c.Birthday)
	}
	for _, p := range c.PhoneNumbers {
		card.Add(vcard.FieldTelephone, addressField(p))
	}
	for _, e := range c.Emails {
		card.Add(vcard.FieldEmail, addressField(e))
	}
	vcard.ToV4(card)
	return card
}

func addressField(a model.ContactAddress) *vcard.Field {
	f := &vcard.Field{Value: a.Address}
	if a.Label != "" {
		f.Params = vcard.Params{vcard.ParamType: {strings.ToLower(a.Label)}}
	}
	return f
}
