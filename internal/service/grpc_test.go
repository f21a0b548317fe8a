package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/jwt"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startIngestServer(t *testing.T, ingest *Ingest, jm *jwt.JWTManager) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(jm, zaptest.NewLogger(t))))
	RegisterIngestServer(srv, NewIngestGRPC(ingest))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCIngestPublish(t *testing.T) {
	ingest, pub := newTestIngest(t)
	jm := jwt.NewJWTManager("secret")
	conn := startIngestServer(t, ingest, jm)

	token, _ := jm.GenerateToken("contest-api", time.Minute)
	client := NewIngestClient(conn, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Publish(ctx, &PublishRequest{Room: "room", Name: "announcement-created", Data: json.RawMessage(`{"id":7}`)})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if resp.Room != "room" || resp.Timestamp.IsZero() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := pub.to("room"); len(got) != 1 || string(got[0].data) != `{"id":7}` {
		t.Fatalf("unexpected published events %+v", got)
	}

	contestID := uuid.New()
	if _, err := client.Freeze(ctx, &FreezeRequest{ContestID: contestID}); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}
	if len(pub.to(rooms.GuestDashboard(contestID))) != 1 {
		t.Fatal("freeze should notify the guest dashboard")
	}
}

func TestGRPCIngestRequiresToken(t *testing.T) {
	ingest, _ := newTestIngest(t)
	conn := startIngestServer(t, ingest, jwt.NewJWTManager("secret"))

	forged, _ := jwt.NewJWTManager("wrong").GenerateToken("intruder", time.Minute)
	client := NewIngestClient(conn, forged)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Publish(ctx, &PublishRequest{Room: "room", Name: "x"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestGRPCIngestMapsErrors(t *testing.T) {
	ingest, _ := newTestIngest(t)
	jm := jwt.NewJWTManager("secret")
	conn := startIngestServer(t, ingest, jm)
	token, _ := jm.GenerateToken("contest-api", time.Minute)
	client := NewIngestClient(conn, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Publish(ctx, &PublishRequest{Name: "x"}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := client.Unfreeze(ctx, &UnfreezeRequest{ContestID: uuid.New()}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}
