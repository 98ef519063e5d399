package services

import (
	"context"
	"fmt"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/pkg/utils"
)

type roomService struct {
	roomRepo   ports.RoomRepository
	historyCap int
}

func NewRoomService(roomRepo ports.RoomRepository, historyCap int) ports.RoomService {
	return &roomService{
		roomRepo:   roomRepo,
		historyCap: historyCap,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, name string, persistent bool) (*domain.Room, error) {
	room := domain.NewRoom(domain.RoomID(utils.GenerateRoomID()), name, s.historyCap)
	room.Persistent = persistent

	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.roomRepo.GetByID(ctx, id)
}

func (s *roomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.roomRepo.List(ctx)
}

func (s *roomService) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return s.roomRepo.Delete(ctx, id)
}

func (s *roomService) JoinRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) error {
	room, err := s.roomRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if room.HasMember(participant) {
		// Rejoin after a reconnect is not an error.
		return nil
	}

	room.AddMember(participant)
	if err := s.roomRepo.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to update room membership: %w", err)
	}

	return nil
}

func (s *roomService) LeaveRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) error {
	room, err := s.roomRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !room.HasMember(participant) {
		return domain.ErrParticipantNotFound
	}

	room.RemoveMember(participant)
	if err := s.roomRepo.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to update room membership: %w", err)
	}

	// Non-persistent rooms disappear with their last member.
	if !room.Persistent && len(room.Members) == 0 {
		return s.roomRepo.Delete(ctx, id)
	}

	return nil
}

func (s *roomService) AppendMessage(ctx context.Context, msg *domain.Message) error {
	room, err := s.roomRepo.GetByID(ctx, msg.RoomID)
	if err != nil {
		return err
	}

	if !room.HasMember(msg.SenderID) {
		return domain.ErrPermissionDenied
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	room.Append(msg)

	if err := s.roomRepo.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func (s *roomService) History(ctx context.Context, id domain.RoomID, limit int) ([]*domain.Message, error) {
	room, err := s.roomRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	history := room.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]*domain.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *roomService) Members(ctx context.Context, id domain.RoomID) ([]domain.ParticipantID, error) {
	room, err := s.roomRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.MemberList(), nil
}
