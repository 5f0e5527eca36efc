package leadsource

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/pkg/notion"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func leadPage(id, name, email string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Name":   &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: name}}},
			"Email":  &notionapi.EmailProperty{Email: email},
			"Status": &notionapi.StatusProperty{Status: notionapi.Status{Name: "New"}},
		},
	}
}

func TestLoadNotion(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				leadPage("page-1", "Maria Lopez", "maria@initech.com"),
				leadPage("page-2", "Bob Smith", "bob@globex.com"),
			},
		}, nil).Once()

	src, err := LoadNotion(ctx, mc, "db-1", "")
	require.NoError(t, err)
	require.Equal(t, 2, src.Len())

	lead, err := src.Row(1)
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", lead.Name)
	assert.Equal(t, "bob@globex.com", lead.Email)
	assert.Equal(t, "page-2", lead.AdditionalData[PageIDKey])
	assert.NotContains(t, lead.AdditionalData, "Status")
	mc.AssertExpectations(t)
}

func TestLoadNotion_StatusFilter(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		f, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && f.Status != nil && f.Status.Equals == "New"
	})).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	src, err := LoadNotion(ctx, mc, "db-1", "New")
	require.NoError(t, err)
	assert.Zero(t, src.Len())
	mc.AssertExpectations(t)
}

func TestLoadNotion_Error(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(nil, errors.New("unauthorized")).Once()

	_, err := LoadNotion(context.Background(), mc, "db-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load notion database")
}

func TestNotion_MarkStatus(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{leadPage("page-1", "Maria Lopez", "maria@initech.com")},
		}, nil).Once()
	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		p, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && p.Status.Name == "completed"
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	src, err := LoadNotion(ctx, mc, "db-1", "")
	require.NoError(t, err)

	var sw StatusWriter = src
	require.NoError(t, sw.MarkStatus(ctx, 0, "completed"))
	assert.ErrorIs(t, sw.MarkStatus(ctx, 3, "completed"), ErrRowOutOfRange)
	mc.AssertExpectations(t)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	noNotion := func() (notion.Client, error) { return nil, errors.New("not configured") }

	_, err := Open(ctx, Options{}, noNotion)
	assert.Error(t, err)

	_, err = Open(ctx, Options{CSV: "a.csv", XLSX: "b.xlsx"}, noNotion)
	assert.Error(t, err)

	_, err = Open(ctx, Options{NotionDB: "db-1"}, noNotion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	mc := new(mockNotion)
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	src, err := Open(ctx, Options{NotionDB: "db-1"}, func() (notion.Client, error) { return mc, nil })
	require.NoError(t, err)
	assert.Zero(t, src.Len())
}
